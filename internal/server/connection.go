package server

import (
	"github.com/sirupsen/logrus"

	"github.com/mmahmood233/localhost/internal/cgi"
	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/httpparse"
	"github.com/mmahmood233/localhost/internal/response"
	"github.com/mmahmood233/localhost/internal/router"
)

// Phase is one state of the per-connection state machine in spec.md §4.J.
type Phase int

const (
	PhaseAccepted Phase = iota
	PhaseReadHeaders
	PhaseReadBody
	PhaseDispatch
	PhaseCGIRunning
	PhaseProduce
	PhaseWrite
	PhaseIdleKeepAlive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepted:
		return "accepted"
	case PhaseReadHeaders:
		return "read_headers"
	case PhaseReadBody:
		return "read_body"
	case PhaseDispatch:
		return "dispatch"
	case PhaseCGIRunning:
		return "cgi_running"
	case PhaseProduce:
		return "produce"
	case PhaseWrite:
		return "write"
	case PhaseIdleKeepAlive:
		return "idle_keepalive"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// readChunkSize is how much a single non-blocking read attempts to
// consume per readiness event (spec.md §4.J: one read per event).
const readChunkSize = 64 * 1024

// connection holds everything the event loop needs to drive one client
// socket through the phases of spec.md §4.J. It belongs exclusively to
// the single event loop goroutine; nothing here is synchronized.
type connection struct {
	id         string
	fd         int
	remoteAddr string
	listener   *config.Listener

	phase Phase
	log   *logrus.Entry

	parser  *httpparse.Parser
	req     *httpparse.Request
	bodyBuf []byte

	decision router.Decision

	resp    *response.Response
	wstage  writeStage
	pending []byte // bytes of the current write stage not yet flushed
	pendOff int

	fileRemaining int64 // BodyFile: bytes left to read from resp.File

	cgiProc      *cgi.Process
	cgiRaw       []byte // stdout bytes not yet scanned for the header/body boundary
	cgiOut       []byte // buffered, not-yet-written CGI stdout body bytes
	cgiStdoutEOF bool
	cgiHdrParsed bool
	cgiStdinAt   int // offset into bodyBuf already written to CGI stdin
}

// writeStage tracks which part of the response is currently being
// flushed to the socket during PhaseWrite (spec.md §4.J PRODUCE/WRITE).
type writeStage int

const (
	stageHeader writeStage = iota
	stageBody
	stageChunkTrailer // final "0\r\n\r\n" for a chunked (CGI) body
	stageDone
)

func newConnection(id string, fd int, remoteAddr string, l *config.Listener, log *logrus.Entry) *connection {
	return &connection{
		id:         id,
		fd:         fd,
		remoteAddr: remoteAddr,
		listener:   l,
		phase:  PhaseAccepted,
		log:    log,
		parser: httpparse.NewParser(httpparse.DefaultLimits()),
	}
}

// reset prepares the connection to parse the next pipelined/keep-alive
// request, per spec.md §4.J's IDLE_KEEPALIVE -> READ_HEADERS transition.
func (c *connection) reset() {
	c.parser.Reset()
	c.req = nil
	c.bodyBuf = c.bodyBuf[:0]
	c.decision = router.Decision{}
	c.resp = nil
	c.wstage = stageHeader
	c.pending = nil
	c.pendOff = 0
	c.fileRemaining = 0
	c.cgiProc = nil
	c.cgiRaw = nil
	c.cgiOut = nil
	c.cgiStdoutEOF = false
	c.cgiHdrParsed = false
	c.cgiStdinAt = 0
	c.phase = PhaseReadHeaders
}
