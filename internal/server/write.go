package server

import (
	"bytes"
	"io"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mmahmood233/localhost/internal/httpheader"
	"github.com/mmahmood233/localhost/internal/httpparse"
	"github.com/mmahmood233/localhost/internal/response"
	"github.com/mmahmood233/localhost/internal/timeout"
)

// beginWrite serializes c.resp's status line and headers and enters
// PhaseWrite, per spec.md §4.J's PRODUCE -> WRITE transition. It also
// decides up front whether the body will be chunk-encoded (CGI output of
// unknown length) or sent with a known Content-Length.
func (s *Server) beginWrite(c *connection, now time.Time) {
	if requestWantsClose(c.req) {
		c.resp.ForceClose = true
	}

	var buf bytes.Buffer
	chunked, err := c.resp.BuildStatusAndHeaders(&buf, now)
	if err != nil {
		s.closeConn(c)
		return
	}

	c.wstage = stageHeader
	c.pending = buf.Bytes()
	c.pendOff = 0
	_ = chunked // response package already reflects this via Transfer-Encoding header

	if c.resp.BodyKind == response.BodyFile {
		c.fileRemaining = c.resp.FileSize
	}

	s.poller.Modify(c.fd, interestFor(false, true))
	s.wheel.Set(uint64(c.fd), now.Add(s.cfg.Timeouts.Write), timeout.ReasonWrite)
	c.phase = PhaseWrite
}

// requestWantsClose reports whether req itself demands the connection
// close after this response, per spec.md §4.E: HTTP/1.0 requests and any
// request carrying an explicit Connection: close both override the
// response's own keep-alive default.
func requestWantsClose(req *httpparse.Request) bool {
	if req == nil {
		return false
	}
	if req.ProtoMajor == 1 && req.ProtoMinor == 0 {
		return true
	}
	if req.Header == nil {
		return false
	}
	return strings.EqualFold(httpheader.TrimOWS(req.Header.Get("Connection")), "close")
}

// writeMore performs exactly one non-blocking write and advances the
// write stage, per spec.md §4.A's one-write-per-event rule.
func (s *Server) writeMore(c *connection, now time.Time) {
	if c.pendOff >= len(c.pending) {
		if !s.refillPending(c) {
			if c.wstage == stageDone {
				s.finishWrite(c, now)
			}
			// Otherwise a CGI producer body is between chunks: nothing to
			// write this round, wait for the next stdout readiness event.
			return
		}
	}

	n, err := unix.Write(c.fd, c.pending[c.pendOff:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.closeConn(c)
		return
	}
	c.pendOff += n
	s.wheel.Set(uint64(c.fd), now.Add(s.cfg.Timeouts.Write), timeout.ReasonWrite)
}

// refillPending loads the next stage's bytes into c.pending. It returns
// false once there is nothing left to write.
func (s *Server) refillPending(c *connection) bool {
	switch c.wstage {
	case stageHeader:
		return s.startBodyStage(c)

	case stageBody:
		if c.resp.SuppressBody {
			return s.startTrailerOrDone(c)
		}
		switch c.resp.BodyKind {
		case response.BodyBytes, response.BodyEmpty:
			return s.startTrailerOrDone(c)
		case response.BodyFile:
			return s.refillFileChunk(c)
		case response.BodyProducer:
			return s.refillProducerChunk(c)
		}
		return false

	case stageChunkTrailer:
		c.wstage = stageDone
		return false

	default:
		return false
	}
}

func (s *Server) startBodyStage(c *connection) bool {
	c.wstage = stageBody
	c.pendOff = 0

	if c.resp.SuppressBody {
		c.pending = nil
		return s.startTrailerOrDone(c)
	}

	switch c.resp.BodyKind {
	case response.BodyBytes:
		c.pending = c.resp.Bytes
		if len(c.pending) == 0 {
			return s.startTrailerOrDone(c)
		}
		return true
	case response.BodyEmpty:
		c.pending = nil
		return s.startTrailerOrDone(c)
	case response.BodyFile:
		return s.refillFileChunk(c)
	case response.BodyProducer:
		return s.refillProducerChunk(c)
	}
	return false
}

func (s *Server) refillFileChunk(c *connection) bool {
	if c.fileRemaining <= 0 {
		return s.startTrailerOrDone(c)
	}
	buf := make([]byte, readChunkSize)
	if int64(len(buf)) > c.fileRemaining {
		buf = buf[:c.fileRemaining]
	}
	n, err := c.resp.File.Read(buf)
	if n > 0 {
		c.pending = buf[:n]
		c.pendOff = 0
		c.fileRemaining -= int64(n)
		return true
	}
	if err != nil {
		c.fileRemaining = 0
		return s.startTrailerOrDone(c)
	}
	return false
}

// refillProducerChunk drains already-buffered CGI stdout bytes, wrapping
// them in chunked-encoding framing when the script sent no Content-Length
// (spec.md §9: CGI output of unknown length is always chunk-encoded) and
// passing them through unframed when it did.
func (s *Server) refillProducerChunk(c *connection) bool {
	chunked := !c.resp.Header.Has("Content-Length")
	if len(c.cgiOut) == 0 {
		if c.cgiStdoutEOF {
			if !chunked {
				return s.startTrailerOrDone(c)
			}
			c.wstage = stageChunkTrailer
			c.pending = []byte("0\r\n\r\n")
			c.pendOff = 0
			return true
		}
		// Nothing buffered yet: stop polling the client socket for
		// writability so an empty send buffer doesn't spin the loop; the
		// CGI stdout handler re-arms it once more bytes arrive.
		s.poller.Modify(c.fd, interestFor(false, false))
		return false
	}
	chunk := c.cgiOut
	c.cgiOut = nil
	if chunked {
		c.pending = encodeChunk(chunk)
	} else {
		c.pending = chunk
	}
	c.pendOff = 0
	return true
}

func encodeChunk(data []byte) []byte {
	var buf bytes.Buffer
	fmtHex(&buf, len(data))
	buf.WriteString("\r\n")
	buf.Write(data)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func fmtHex(buf *bytes.Buffer, n int) {
	if n == 0 {
		buf.WriteByte('0')
		return
	}
	const hexdigits = "0123456789abcdef"
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexdigits[n&0xf]
		n >>= 4
	}
	buf.Write(tmp[i:])
}

// startTrailerOrDone is reached once a BodyBytes/BodyEmpty/BodyFile body,
// or a BodyProducer body sent with a Content-Length, has been fully
// flushed (chunked BodyProducer bodies instead fall out of
// refillProducerChunk into stageChunkTrailer).
func (s *Server) startTrailerOrDone(c *connection) bool {
	c.wstage = stageDone
	c.pending = nil
	return false
}

func (s *Server) finishWrite(c *connection, now time.Time) {
	if c.resp.BodyKind == response.BodyFile {
		if closer, ok := c.resp.File.(io.Closer); ok {
			closer.Close()
		}
	}
	closing := c.resp.Closing()
	if closing {
		s.closeConn(c)
		return
	}
	c.reset()
	c.phase = PhaseIdleKeepAlive
	s.poller.Modify(c.fd, interestFor(true, false))
	s.wheel.Set(uint64(c.fd), now.Add(s.cfg.Timeouts.KeepAliveIdle), timeout.ReasonKeepAliveIdle)
}

func (s *Server) closeConn(c *connection) {
	s.wheel.Cancel(uint64(c.fd))
	s.poller.Remove(c.fd)
	unix.Close(c.fd)
	delete(s.conns, c.fd)
	if c.cgiProc != nil {
		c.cgiProc.Kill()
		s.poller.Remove(c.cgiProc.StdinFD())
		s.poller.Remove(c.cgiProc.StdoutFD())
		delete(s.cgiStdinFDs, c.cgiProc.StdinFD())
		delete(s.cgiOutFDs, c.cgiProc.StdoutFD())
	}
	c.phase = PhaseClosed
}

func (s *Server) handleExpired(exp timeout.Expired) {
	fd := int(exp.ID)
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	switch exp.Reason {
	case timeout.ReasonHeaderRead, timeout.ReasonBodyRead:
		c.resp = errorResponse(408)
		c.resp.ForceClose = true
		s.poller.Modify(c.fd, interestFor(false, true))
		s.beginWrite(c, time.Now())
	case timeout.ReasonWrite, timeout.ReasonKeepAliveIdle, timeout.ReasonWholeRequest:
		s.closeConn(c)
	}
}
