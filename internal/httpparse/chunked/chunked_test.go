package chunked

import (
	"bytes"
	"testing"
)

func TestDecodeSingleChunkWholeBuffer(t *testing.T) {
	d := NewDecoder()
	in := []byte("5\r\nhello\r\n0\r\n\r\n")
	data, consumed, done, err := d.Feed(in)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}
	if consumed != len(in) {
		t.Errorf("consumed = %d, want %d (the whole buffer)", consumed, len(in))
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
}

func TestDecodeMultipleChunks(t *testing.T) {
	d := NewDecoder()
	in := []byte("4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	data, _, done, err := d.Feed(in)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}
	if string(data) != "Wikipedia" {
		t.Errorf("data = %q, want %q", data, "Wikipedia")
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	d := NewDecoder()
	in := []byte("3\r\nfoo\r\n0\r\n\r\n")
	var got bytes.Buffer
	done := false
	for i := 0; i < len(in); i++ {
		data, consumed, d2, err := d.Feed(in[i : i+1])
		if err != nil {
			t.Fatalf("Feed at byte %d: %v", i, err)
		}
		if consumed != 1 {
			t.Fatalf("Feed at byte %d consumed %d, want 1", i, consumed)
		}
		got.Write(data)
		if d2 {
			done = true
		}
	}
	if !done {
		t.Fatal("stream never reported done")
	}
	if got.String() != "foo" {
		t.Errorf("decoded = %q, want %q", got.String(), "foo")
	}
}

func TestDecodeWithChunkExtensionIgnored(t *testing.T) {
	d := NewDecoder()
	in := []byte("5;ext=1\r\nhello\r\n0\r\n\r\n")
	data, _, done, err := d.Feed(in)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done || string(data) != "hello" {
		t.Errorf("data=%q done=%v, want hello/true", data, done)
	}
}

func TestDecodeWithTrailers(t *testing.T) {
	d := NewDecoder()
	in := []byte("3\r\nfoo\r\n0\r\nX-Trailer: bar\r\n\r\n")
	data, consumed, done, err := d.Feed(in)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}
	if consumed != len(in) {
		t.Errorf("consumed = %d, want %d", consumed, len(in))
	}
	if string(data) != "foo" {
		t.Errorf("data = %q, want %q", data, "foo")
	}
}

func TestDecodeMalformedSize(t *testing.T) {
	d := NewDecoder()
	_, _, _, err := d.Feed([]byte("zz\r\n"))
	if err != ErrMalformed {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeMalformedMissingLF(t *testing.T) {
	d := NewDecoder()
	_, _, _, err := d.Feed([]byte("3\rXfoo\r\n"))
	if err != ErrMalformed {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeLeavesUnconsumedBytesAfterTerminator(t *testing.T) {
	d := NewDecoder()
	in := []byte("0\r\n\r\nGET /next HTTP/1.1\r\n")
	_, consumed, done, err := d.Feed(in)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}
	if consumed != len("0\r\n\r\n") {
		t.Errorf("consumed = %d, want %d (terminator only, next request untouched)", consumed, len("0\r\n\r\n"))
	}
}

func TestEncoderWriteChunkAndClose(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	if err := e.WriteChunk([]byte("hello")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := e.WriteChunk(nil); err != nil {
		t.Fatalf("WriteChunk(nil): %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "5\r\nhello\r\n0\r\n\r\n"
	if buf.String() != want {
		t.Errorf("encoded = %q, want %q", buf.String(), want)
	}
}
