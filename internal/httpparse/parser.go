// Package httpparse implements the incremental HTTP/1.1 request parser
// described in spec.md §4.C: a byte-fed state machine that never blocks,
// never buffers more than a configured limit before reporting
// HEADERS_COMPLETE, and reports protocol violations as HTTP status codes
// rather than Go errors, so the connection state machine can turn them
// directly into responses.
package httpparse

import (
	"strconv"
	"strings"

	"github.com/mmahmood233/localhost/internal/httpheader"
	"github.com/mmahmood233/localhost/internal/httpparse/chunked"
)

// EventKind tags the result of a Feed call.
type EventKind int

const (
	NeedMore EventKind = iota
	HeadersComplete
	BodyChunk
	BodyComplete
	ProtocolError
)

// Event is the single result of one Feed call, per spec.md §4.C.
type Event struct {
	Kind    EventKind
	Request *Request
	Chunk   []byte // valid only for BodyChunk; caller must copy before the next Feed call
	Status  int    // valid only for ProtocolError
}

type parserState int

const (
	stateRequestLine parserState = iota
	stateHeaders
	stateBodyFixed
	stateBodyChunked
	stateBodyDone
)

// Limits bounds the parser's memory use and enforces spec.md's size rules.
type Limits struct {
	MaxHeaderBytes    int   // total bytes of request-line + headers before HEADERS_COMPLETE
	MaxHeaderCount    int   // number of distinct header fields
	MaxHeaderValueLen int   // bytes of a single header value
	MaxBodySize       int64 // not read by Parser; the effective body limit is installed with SetMaxBodySize and applies to fixed-length and chunked bodies alike
}

// DefaultLimits mirrors the defaults spec.md §4.C names.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes:    8 << 10,
		MaxHeaderCount:    100,
		MaxHeaderValueLen: 8 << 10,
	}
}

// Parser is the incremental request parser. One Parser serves exactly one
// connection and is Reset between pipelined requests.
type Parser struct {
	limits Limits

	buf   []byte // bytes not yet consumed
	state parserState

	headerBytesSeen int
	headerLineBuf   []byte

	req *Request

	bodyRemaining   int64
	chunkDec        *chunked.Decoder
	maxBodySize     int64
	bodySeen        int64
	pendingComplete bool
}

// NewParser returns a Parser awaiting the first request-line.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits, state: stateRequestLine}
}

// Reset prepares the parser for the next pipelined request, keeping any
// bytes already buffered past the previous request's boundary.
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.headerBytesSeen = 0
	p.headerLineBuf = p.headerLineBuf[:0]
	p.req = nil
	p.bodyRemaining = 0
	p.chunkDec = nil
	p.bodySeen = 0
}

// SetMaxBodySize installs the effective body-size limit once the route is
// known (spec.md §4.F step 6); it is applied as bytes continue to arrive.
func (p *Parser) SetMaxBodySize(n int64) {
	p.maxBodySize = n
}

// Feed appends newly-read bytes and advances the state machine by exactly
// one reportable Event, per spec.md's "after each feed call reports one
// of..." contract. Call Feed repeatedly with a nil slice to drain
// previously-buffered bytes (e.g. pipelined requests or a chunk boundary
// that landed mid-buffer) until it returns NeedMore.
func (p *Parser) Feed(data []byte) Event {
	if p.pendingComplete {
		p.pendingComplete = false
		if len(data) > 0 {
			p.buf = append(p.buf, data...)
		}
		return Event{Kind: BodyComplete}
	}
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	switch p.state {
	case stateRequestLine:
		return p.feedRequestLine()
	case stateHeaders:
		return p.feedHeaders()
	case stateBodyFixed:
		return p.feedBodyFixed()
	case stateBodyChunked:
		return p.feedBodyChunked()
	default:
		return Event{Kind: NeedMore}
	}
}

func (p *Parser) takeLine() (line []byte, ok bool) {
	idx := indexCRLF(p.buf)
	if idx < 0 {
		if len(p.buf) > p.limits.MaxHeaderBytes {
			return nil, false
		}
		return nil, false
	}
	line = p.buf[:idx]
	p.buf = p.buf[idx+2:]
	return line, true
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (p *Parser) feedRequestLine() Event {
	line, ok := p.takeLine()
	if !ok {
		if len(p.buf) > p.limits.MaxHeaderBytes {
			return Event{Kind: ProtocolError, Status: 431}
		}
		return Event{Kind: NeedMore}
	}
	p.headerBytesSeen += len(line) + 2

	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return Event{Kind: ProtocolError, Status: 400}
	}
	method, target, proto := parts[0], parts[1], parts[2]

	if !isValidMethodToken(method) {
		return Event{Kind: ProtocolError, Status: 400}
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return Event{Kind: ProtocolError, Status: 400}
	}
	if major != 1 {
		return Event{Kind: ProtocolError, Status: 505}
	}

	m := methodFromToken(method)
	if m == MethodOther {
		return Event{Kind: ProtocolError, Status: 501}
	}

	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}

	p.req = &Request{
		Method:      m,
		MethodToken: method,
		Target:      target,
		Path:        path,
		Query:       query,
		ProtoMajor:  major,
		ProtoMinor:  minor,
		Header:      httpheader.New(),
	}
	p.state = stateHeaders
	return p.feedHeaders()
}

func isValidMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func parseHTTPVersion(s string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, false
	}
	rest := s[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 || dot != 1 || len(rest) != 3 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:1])
	min, err2 := strconv.Atoi(rest[2:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

func (p *Parser) feedHeaders() Event {
	for {
		// obs-fold (a continuation line starting with SP/HTAB) is a 400:
		// peek without consuming so a short read doesn't misfire.
		if len(p.buf) > 0 && (p.buf[0] == ' ' || p.buf[0] == '\t') {
			return Event{Kind: ProtocolError, Status: 400}
		}

		idx := indexCRLF(p.buf)
		if idx < 0 {
			if p.headerBytesSeen+len(p.buf) > p.limits.MaxHeaderBytes {
				return Event{Kind: ProtocolError, Status: 431}
			}
			return Event{Kind: NeedMore}
		}
		line := p.buf[:idx]
		p.headerBytesSeen += len(line) + 2
		if p.headerBytesSeen > p.limits.MaxHeaderBytes {
			return Event{Kind: ProtocolError, Status: 431}
		}

		if len(line) == 0 {
			p.buf = p.buf[idx+2:]
			return p.finishHeaders()
		}

		colon := indexByte(line, ':')
		if colon <= 0 {
			return Event{Kind: ProtocolError, Status: 400}
		}
		name := string(line[:colon])
		if !httpheader.IsValidFieldName(name) {
			return Event{Kind: ProtocolError, Status: 400}
		}
		value := httpheader.TrimOWS(string(line[colon+1:]))
		if len(value) > p.limits.MaxHeaderValueLen {
			return Event{Kind: ProtocolError, Status: 431}
		}
		if !httpheader.IsValidFieldValue(value) {
			return Event{Kind: ProtocolError, Status: 400}
		}
		if p.req.Header.Len() >= p.limits.MaxHeaderCount && !p.req.Header.Has(name) {
			return Event{Kind: ProtocolError, Status: 431}
		}

		p.req.Header.Add(name, value)
		p.buf = p.buf[idx+2:]
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func (p *Parser) finishHeaders() Event {
	req := p.req

	if req.ProtoAtLeast(1, 1) && req.Method != MethodOther {
		hostVal := req.Header.Get("Host")
		if !req.Header.Has("Host") {
			return Event{Kind: ProtocolError, Status: 400}
		}
		if strings.Contains(hostVal, ",") {
			// Add() would have comma-joined a duplicate Host header.
			return Event{Kind: ProtocolError, Status: 400}
		}
		req.Host = hostPortion(hostVal)
	}

	te := req.Header.Get("Transfer-Encoding")
	cl := req.Header.Get("Content-Length")

	switch {
	case te != "" && lastCoding(te) == "chunked":
		if cl != "" {
			return Event{Kind: ProtocolError, Status: 400}
		}
		req.BodyKind = BodyChunked
		p.chunkDec = chunked.NewDecoder()
		p.state = stateBodyChunked
	case cl != "":
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return Event{Kind: ProtocolError, Status: 400}
		}
		req.BodyKind = BodyFixedLength
		req.ContentLength = n
		p.bodyRemaining = n
		// Even with n == 0 the next Feed call reports BodyComplete.
		p.state = stateBodyFixed
	default:
		req.BodyKind = BodyAbsent
		p.state = stateBodyDone
	}

	return Event{Kind: HeadersComplete, Request: req}
}

func hostPortion(hostHeader string) string {
	h := strings.ToLower(hostHeader)
	if h == "" {
		return h
	}
	if h[0] == '[' {
		if i := strings.IndexByte(h, ']'); i >= 0 {
			return h[:i+1]
		}
		return h
	}
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		return h[:i]
	}
	return h
}

func lastCoding(te string) string {
	parts := strings.Split(te, ",")
	last := httpheader.TrimOWS(parts[len(parts)-1])
	return strings.ToLower(last)
}

func (p *Parser) feedBodyFixed() Event {
	if p.bodyRemaining == 0 {
		p.state = stateBodyDone
		return Event{Kind: BodyComplete}
	}
	if len(p.buf) == 0 {
		return Event{Kind: NeedMore}
	}
	n := int64(len(p.buf))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	chunk := p.buf[:n]
	p.buf = p.buf[n:]
	p.bodyRemaining -= n
	p.bodySeen += n
	if p.maxBodySize > 0 && p.bodySeen > p.maxBodySize {
		return Event{Kind: ProtocolError, Status: 413}
	}
	// Once bodyRemaining reaches zero, the next Feed call reports
	// BodyComplete from the check at the top of this function.
	return Event{Kind: BodyChunk, Chunk: chunk}
}

func (p *Parser) feedBodyChunked() Event {
	if len(p.buf) == 0 {
		return Event{Kind: NeedMore}
	}
	decoded, consumed, done, err := p.chunkDec.Feed(p.buf)
	p.buf = p.buf[consumed:]
	if err != nil {
		return Event{Kind: ProtocolError, Status: 400}
	}
	p.bodySeen += int64(len(decoded))
	if p.maxBodySize > 0 && p.bodySeen > p.maxBodySize {
		return Event{Kind: ProtocolError, Status: 413}
	}
	if done {
		p.state = stateBodyDone
		if len(decoded) > 0 {
			// Report the final chunk first; BodyComplete follows on the
			// next Feed call so each call still reports exactly one event.
			p.pendingComplete = true
			return Event{Kind: BodyChunk, Chunk: decoded}
		}
		return Event{Kind: BodyComplete}
	}
	if len(decoded) == 0 {
		return Event{Kind: NeedMore}
	}
	return Event{Kind: BodyChunk, Chunk: decoded}
}
