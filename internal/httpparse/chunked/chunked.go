// Package chunked implements the Transfer-Encoding: chunked state machine
// described in spec.md §4.D: a Decoder for incoming request bodies and an
// Encoder for outgoing response bodies of unknown length (used only by the
// CGI bridge, per spec.md §9's open-question answer).
package chunked

import (
	"bytes"
	"fmt"
	"io"
)

// state is the decoder's position within one chunk.
type state int

const (
	stateSize state = iota
	stateSizeCR
	stateExt
	stateData
	stateDataCR
	stateTrailer
	stateTrailerLine
	stateFinalLF
	stateDone
)

const maxSizeDigits = 16 // hex digits; bounds chunk-size to fit uint64

// ErrMalformed is returned by Decoder.Feed when the byte stream violates
// chunked grammar; the caller maps this to a 400 response.
var ErrMalformed = fmt.Errorf("chunked: malformed encoding")

// Decoder incrementally decodes a chunked request body. Feed is called with
// each newly-read slice of bytes; it returns the decoded data chunk (if
// any), whether the stream is done (trailers consumed, zero chunk seen),
// and an error if the grammar was violated.
type Decoder struct {
	st        state
	sizeDigit int
	size      uint64
	remaining uint64
	data      bytes.Buffer
	line      bytes.Buffer // accumulates trailer/size lines across Feed calls
}

// NewDecoder returns a Decoder ready to consume the first chunk-size line.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes as much of p as forms complete chunk data, returning the
// decoded payload bytes (owned by the caller — safe to retain), the number
// of bytes of p consumed, whether the body is fully decoded (trailers
// read), and any grammar error.
func (d *Decoder) Feed(p []byte) (decoded []byte, consumed int, done bool, err error) {
	d.data.Reset()
	i := 0
	for i < len(p) {
		b := p[i]
		switch d.st {
		case stateDone:
			return d.data.Bytes(), i, true, nil

		case stateSize:
			switch {
			case isHex(b):
				if d.sizeDigit == maxSizeDigits {
					return nil, i, false, ErrMalformed
				}
				d.size = d.size<<4 | uint64(hexVal(b))
				d.sizeDigit++
				i++
			case b == ';':
				d.st = stateExt
				i++
			case b == '\r':
				d.st = stateSizeCR
				i++
			default:
				return nil, i, false, ErrMalformed
			}

		case stateExt:
			if b == '\r' {
				d.st = stateSizeCR
			}
			i++

		case stateSizeCR:
			if b != '\n' {
				return nil, i, false, ErrMalformed
			}
			i++
			d.sizeDigit = 0
			if d.size == 0 {
				d.st = stateTrailer
			} else {
				d.remaining = d.size
				d.size = 0
				d.st = stateData
			}

		case stateData:
			n := d.remaining
			avail := uint64(len(p) - i)
			if n > avail {
				n = avail
			}
			d.data.Write(p[i : i+int(n)])
			i += int(n)
			d.remaining -= n
			if d.remaining == 0 {
				d.st = stateDataCR
			}

		case stateDataCR:
			// expect CRLF after chunk data; tolerate either byte position
			if b != '\r' && b != '\n' {
				return nil, i, false, ErrMalformed
			}
			i++
			if b == '\n' {
				d.st = stateSize
			}

		case stateTrailer:
			if b == '\r' {
				d.st = stateFinalLF
				i++
				continue
			}
			d.st = stateTrailerLine
			d.line.Reset()

		case stateTrailerLine:
			if b == '\n' {
				d.st = stateTrailer
			}
			i++

		case stateFinalLF:
			if b != '\n' {
				return nil, i, false, ErrMalformed
			}
			i++
			d.st = stateDone

		default:
			return nil, i, false, ErrMalformed
		}
	}
	if d.st == stateDone {
		// final CRLF after trailers
		return d.data.Bytes(), i, true, nil
	}
	return d.data.Bytes(), i, false, nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

// Encoder writes chunked-framed output for a response body of unknown
// length (spec.md §9: only CGI output without Content-Length is chunked).
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w with chunked framing.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteChunk emits one non-empty chunk. Writing a zero-length slice is a
// no-op — use Close to terminate the stream.
func (e *Encoder) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(e.w, "%x\r\n", len(p)); err != nil {
		return err
	}
	if _, err := e.w.Write(p); err != nil {
		return err
	}
	_, err := e.w.Write(crlf)
	return err
}

// Close writes the terminating zero-size chunk and final CRLF.
func (e *Encoder) Close() error {
	_, err := e.w.Write([]byte("0\r\n\r\n"))
	return err
}

var crlf = []byte("\r\n")
