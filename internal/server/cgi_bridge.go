package server

import (
	"bytes"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mmahmood233/localhost/internal/cgi"
	"github.com/mmahmood233/localhost/internal/response"
)

// handleCGIStdinWritable forwards the next slice of the buffered request
// body to the child's stdin, one non-blocking write per readiness event
// (spec.md §4.I/§4.A).
func (s *Server) handleCGIStdinWritable(c *connection, now time.Time) {
	if c.cgiStdinAt >= len(c.bodyBuf) {
		s.closeCGIStdin(c)
		return
	}
	n, err := c.cgiProc.WriteStdin(c.bodyBuf[c.cgiStdinAt:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.closeCGIStdin(c)
		return
	}
	c.cgiStdinAt += n
	if c.cgiStdinAt >= len(c.bodyBuf) {
		s.closeCGIStdin(c)
	}
}

func (s *Server) closeCGIStdin(c *connection) {
	fd := c.cgiProc.StdinFD()
	if _, ok := s.cgiStdinFDs[fd]; !ok {
		return
	}
	s.poller.Remove(fd)
	delete(s.cgiStdinFDs, fd)
	c.cgiProc.CloseStdin()
}

// handleCGIStdoutReadable reads one chunk of CGI stdout, splits off the
// CGI/1.1 header block the first time a blank line appears, and once
// headers are known starts streaming the response to the client
// (spec.md §4.I).
func (s *Server) handleCGIStdoutReadable(c *connection, now time.Time) {
	buf := make([]byte, readChunkSize)
	n, err := c.cgiProc.ReadStdout(buf)
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.finishCGI(c, now, true)
		return
	}
	if n == 0 {
		if err == nil {
			s.finishCGI(c, now, false)
		}
		return
	}

	if !c.cgiHdrParsed {
		c.cgiRaw = append(c.cgiRaw, buf[:n]...)
		idx := bytes.Index(c.cgiRaw, []byte("\r\n\r\n"))
		sep := 4
		if idx < 0 {
			idx = bytes.Index(c.cgiRaw, []byte("\n\n"))
			sep = 2
		}
		if idx < 0 {
			return // still waiting for the header block to complete
		}
		status, header, perr := cgi.ParseHeaderBlock(c.cgiRaw[:idx])
		if perr != nil || header.Get("Content-Type") == "" {
			s.finishCGI(c, now, true)
			return
		}
		c.cgiHdrParsed = true
		c.cgiOut = append(c.cgiOut, c.cgiRaw[idx+sep:]...)
		c.cgiRaw = nil

		c.resp = response.New(status)
		for _, k := range header.Keys() {
			c.resp.Header.Set(k, header.Get(k))
		}
		c.resp.BodyKind = response.BodyProducer
		s.beginWrite(c, now)
		return
	}

	c.cgiOut = append(c.cgiOut, buf[:n]...)
	if c.phase == PhaseWrite {
		s.poller.Modify(c.fd, interestFor(false, true))
	}
}

// finishCGI marks the CGI stdout stream finished, reaping the child and
// folding a malformed-output or nonzero-exit case into a 502 (spec.md
// §4.I).
func (s *Server) finishCGI(c *connection, now time.Time, hardFailure bool) {
	if c.cgiProc == nil {
		return
	}
	exitCode, _ := c.cgiProc.Wait()
	s.poller.Remove(c.cgiProc.StdoutFD())
	delete(s.cgiOutFDs, c.cgiProc.StdoutFD())
	c.cgiProc.CloseStdout()

	if hardFailure || !c.cgiHdrParsed || (exitCode != 0 && len(c.cgiOut) == 0) {
		c.resp = errorResponse(502)
		c.resp.ForceClose = true
		s.beginWrite(c, now)
		return
	}

	c.cgiStdoutEOF = true
	if c.phase != PhaseWrite {
		// Headers were parsed but we hadn't started writing yet (the whole
		// CGI run finished inside one readiness burst); start now.
		c.resp.BodyKind = response.BodyProducer
		s.beginWrite(c, now)
		return
	}
	s.poller.Modify(c.fd, interestFor(false, true))
}
