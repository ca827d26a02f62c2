package httpparse

import "github.com/mmahmood233/localhost/internal/httpheader"

// Method is one of the four methods this server understands plus a tagged
// "other" value for anything else (spec.md §3).
type Method int

const (
	MethodOther Method = iota
	MethodGet
	MethodPost
	MethodDelete
	MethodHead
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodDelete:
		return "DELETE"
	case MethodHead:
		return "HEAD"
	default:
		return "OTHER"
	}
}

func methodFromToken(tok string) Method {
	switch tok {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "DELETE":
		return MethodDelete
	case "HEAD":
		return MethodHead
	default:
		return MethodOther
	}
}

// BodyKind tags which body framing a Request carries, per spec.md §3.
type BodyKind int

const (
	BodyAbsent BodyKind = iota
	BodyFixedLength
	BodyChunked
)

// Request is the parsed request-line, headers and body-framing metadata.
// The body itself is not buffered here — it streams through Event.Chunk
// values the caller (the connection state machine) routes to whichever
// sink the matched route selects.
type Request struct {
	Method      Method
	MethodToken string // raw token, so MethodOther requests can still be logged/rejected with detail
	Target      string // origin-form request-target as received
	Path        string // Target with the query string stripped
	Query       string // portion after '?', without the '?'
	ProtoMajor  int
	ProtoMinor  int
	Header      *httpheader.Header

	BodyKind      BodyKind
	ContentLength int64 // valid when BodyKind == BodyFixedLength

	Host string // host portion of the Host header, lowercased, port stripped
}

// ProtoAtLeast reports whether the request's HTTP version is >= major.minor.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.ProtoMajor > major || (r.ProtoMajor == major && r.ProtoMinor >= minor)
}

// WantsClose reports whether the client asked for the connection to close
// after this response, independent of what the server decides.
func (r *Request) WantsClose() bool {
	return headerTokenContains(r.Header.Get("Connection"), "close")
}

// WantsKeepAlive reports an explicit HTTP/1.0 "Connection: keep-alive".
func (r *Request) WantsKeepAlive() bool {
	return headerTokenContains(r.Header.Get("Connection"), "keep-alive")
}

// ExpectsContinue reports an "Expect: 100-continue" header.
func (r *Request) ExpectsContinue() bool {
	return headerTokenContains(r.Header.Get("Expect"), "100-continue")
}

func headerTokenContains(value, token string) bool {
	if value == "" {
		return false
	}
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			part := httpheader.TrimOWS(value[start:i])
			if equalFold(part, token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
