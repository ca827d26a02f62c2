// Package response implements the Response Builder described in
// spec.md §4.E: it assembles a status line, mandatory headers and a body
// (fixed-length, empty, or a lazy producer for chunked/CGI output) as bytes
// the connection state machine writes out one syscall at a time.
package response

import (
	"fmt"
	"io"
	"time"

	"github.com/mmahmood233/localhost/internal/httpheader"
)

// BodyKind tags how Response.Body should be drained.
type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyBytes
	BodyFile
	BodyProducer
)

// Producer yields body bytes incrementally. Next returns the next chunk
// (possibly nil/empty) and whether the stream is finished. The connection
// state machine in internal/server does not call it: for CGI output it
// sets BodyKind to BodyProducer, leaves Producer nil, and writes from its
// own buffer of the script's stdout.
type Producer interface {
	// Next returns the next available chunk without blocking.
	Next() (chunk []byte, eof bool, err error)
}

// Response is the server-side HTTP response spec.md §3 describes.
type Response struct {
	StatusCode int
	Header     *httpheader.Header

	BodyKind BodyKind
	Bytes    []byte        // BodyKind == BodyBytes
	File     io.ReadSeeker // BodyKind == BodyFile
	FileSize int64
	Producer Producer // BodyKind == BodyProducer

	// ForceClose marks a response after which the connection must be
	// closed regardless of what keep-alive negotiation would otherwise
	// decide (parser errors, 5xx, explicit client close).
	ForceClose bool

	// SuppressBody is set for HEAD requests: headers describe the GET
	// response but no body bytes are emitted.
	SuppressBody bool
}

// New returns a Response with an initialized, empty header map.
func New(status int) *Response {
	return &Response{StatusCode: status, Header: httpheader.New()}
}

// WithBytes sets an owned-bytes body and Content-Length.
func (r *Response) WithBytes(b []byte) *Response {
	r.BodyKind = BodyBytes
	r.Bytes = b
	return r
}

// WithFile sets a file-backed body of known size.
func (r *Response) WithFile(f io.ReadSeeker, size int64) *Response {
	r.BodyKind = BodyFile
	r.File = f
	r.FileSize = size
	return r
}

// WithProducer sets a streaming body of unknown length, which will be
// chunk-encoded (spec.md §9).
func (r *Response) WithProducer(p Producer) *Response {
	r.BodyKind = BodyProducer
	r.Producer = p
	return r
}

// ReasonPhrase returns the fixed reason phrase for code, or "" if code is
// not in the table (spec.md §4.E).
func ReasonPhrase(code int) string {
	return reasonPhrases[code]
}

var reasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// ServerToken is the fixed Server header value (spec.md §4.E).
const ServerToken = "localhost/1.0"

// TimeFormat is RFC 7231's IMF-fixdate, the format required for Date and
// Last-Modified headers.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// BuildStatusAndHeaders writes the status line and header block — but not
// the body — to w, filling in the mandatory headers spec.md §4.E requires
// (Date, Server, exactly one of Content-Length/Transfer-Encoding,
// Connection when applicable) unless the caller already set them.
//
// chunked reports whether the body will be chunk-encoded, so the caller
// knows how to drain Producer afterwards.
func (r *Response) BuildStatusAndHeaders(w io.Writer, now time.Time) (chunked bool, err error) {
	if !r.Header.Has("Date") {
		r.Header.Set("Date", now.UTC().Format(TimeFormat))
	}
	if !r.Header.Has("Server") {
		r.Header.Set("Server", ServerToken)
	}

	switch r.BodyKind {
	case BodyBytes:
		r.Header.Set("Content-Length", fmt.Sprintf("%d", len(r.Bytes)))
	case BodyFile:
		r.Header.Set("Content-Length", fmt.Sprintf("%d", r.FileSize))
	case BodyEmpty:
		if !r.Header.Has("Content-Length") {
			r.Header.Set("Content-Length", "0")
		}
	case BodyProducer:
		if !r.Header.Has("Content-Length") {
			r.Header.Set("Transfer-Encoding", "chunked")
			chunked = true
		}
	}

	if r.ForceClose || r.StatusCode >= 500 {
		r.Header.Set("Connection", "close")
	}

	reason := ReasonPhrase(r.StatusCode)
	if _, err = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.StatusCode, reason); err != nil {
		return chunked, err
	}
	_, err = r.Header.WriteTo(w)
	if err != nil {
		return chunked, err
	}
	_, err = io.WriteString(w, "\r\n")
	return chunked, err
}

// Closing reports whether this response requires the connection to close
// afterwards, combining ForceClose with the Connection header it carries.
func (r *Response) Closing() bool {
	return r.ForceClose || httpheader.TrimOWS(r.Header.Get("Connection")) == "close"
}
