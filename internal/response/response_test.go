package response

import (
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestBuildStatusAndHeadersBytesBody(t *testing.T) {
	r := New(200)
	r.WithBytes([]byte("hello"))

	var buf strings.Builder
	chunked, err := r.BuildStatusAndHeaders(&buf, fixedTime)
	if err != nil {
		t.Fatalf("BuildStatusAndHeaders: %v", err)
	}
	if chunked {
		t.Error("chunked = true, want false for a fixed-length body")
	}
	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("missing status line, got %q", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Errorf("missing Content-Length, got %q", out)
	}
	if !strings.Contains(out, "Server: localhost/1.0\r\n") {
		t.Errorf("missing Server header, got %q", out)
	}
}

func TestBuildStatusAndHeadersProducerIsChunked(t *testing.T) {
	r := New(200)
	r.BodyKind = BodyProducer

	var buf strings.Builder
	chunked, err := r.BuildStatusAndHeaders(&buf, fixedTime)
	if err != nil {
		t.Fatalf("BuildStatusAndHeaders: %v", err)
	}
	if !chunked {
		t.Error("chunked = false, want true for BodyProducer with no Content-Length")
	}
	if !strings.Contains(buf.String(), "Transfer-Encoding: chunked\r\n") {
		t.Errorf("missing Transfer-Encoding, got %q", buf.String())
	}
}

func TestBuildStatusAndHeadersForceCloseSetsConnectionClose(t *testing.T) {
	r := New(500)
	r.BodyKind = BodyEmpty
	r.ForceClose = true

	var buf strings.Builder
	if _, err := r.BuildStatusAndHeaders(&buf, fixedTime); err != nil {
		t.Fatalf("BuildStatusAndHeaders: %v", err)
	}
	if !strings.Contains(buf.String(), "Connection: close\r\n") {
		t.Errorf("missing Connection: close, got %q", buf.String())
	}
}

func TestClosingReflectsForceCloseAndHeader(t *testing.T) {
	r := New(200)
	if r.Closing() {
		t.Error("fresh response reports Closing() = true")
	}
	r.ForceClose = true
	if !r.Closing() {
		t.Error("ForceClose set but Closing() = false")
	}

	r2 := New(200)
	r2.Header.Set("Connection", "close")
	if !r2.Closing() {
		t.Error("Connection: close header present but Closing() = false")
	}
}

func TestReasonPhraseKnownAndUnknown(t *testing.T) {
	if got := ReasonPhrase(404); got != "Not Found" {
		t.Errorf("ReasonPhrase(404) = %q, want Not Found", got)
	}
	if got := ReasonPhrase(799); got != "" {
		t.Errorf("ReasonPhrase(799) = %q, want empty string", got)
	}
}
