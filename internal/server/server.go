// Package server implements the Connection State Machine and
// Listener/Acceptor described in spec.md §4.J/§4.K: the single-threaded
// event loop that drives every accepted connection through
// ACCEPTED -> READ_HEADERS -> READ_BODY -> DISPATCH -> PRODUCE -> WRITE ->
// (CLOSED | IDLE_KEEPALIVE), reading and writing at most once per
// readiness event (spec.md §4.A, §9).
package server

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/httpparse"
	"github.com/mmahmood233/localhost/internal/ids"
	"github.com/mmahmood233/localhost/internal/logging"
	"github.com/mmahmood233/localhost/internal/reactor"
	"github.com/mmahmood233/localhost/internal/router"
	"github.com/mmahmood233/localhost/internal/timeout"
)

// Server owns every fd, the reactor, the timeout wheel and the route
// table for the process's lifetime. It is not safe for concurrent use —
// Run's goroutine is the only one that ever touches it (spec.md §9).
type Server struct {
	cfg    *config.Config
	routes *router.Table
	poller reactor.Poller
	wheel  *timeout.Wheel
	log    *logrus.Logger

	listeners   map[int]*boundListener
	conns       map[int]*connection
	cgiStdinFDs map[int]*connection
	cgiOutFDs   map[int]*connection

	closing bool
}

// New builds a Server bound to every listener in cfg but does not yet
// start accepting connections; call Run for that.
func New(cfg *config.Config, log *logrus.Logger) (*Server, error) {
	poller, err := reactor.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		routes:      router.New(cfg),
		poller:      poller,
		wheel:       timeout.New(),
		log:         log,
		listeners:   make(map[int]*boundListener),
		conns:       make(map[int]*connection),
		cgiStdinFDs: make(map[int]*connection),
		cgiOutFDs:   make(map[int]*connection),
	}

	for i := range cfg.Listeners {
		lc := &cfg.Listeners[i]
		bl, err := bindListener(lc)
		if err != nil {
			poller.Close()
			return nil, err
		}
		if err := poller.Add(bl.fd, interestFor(true, false)); err != nil {
			poller.Close()
			return nil, err
		}
		s.listeners[bl.fd] = bl
	}

	return s, nil
}

func interestFor(read, write bool) reactor.Interest {
	return reactor.Interest{Read: read, Write: write}
}

// defaultPollTimeout bounds how long Wait blocks when nothing is on the
// timeout wheel yet, so a freshly started server still wakes periodically.
const defaultPollTimeout = time.Second

// Run drives the event loop until Shutdown is called or Wait returns a
// fatal error (spec.md §5: "a single loop: wait for readiness, dispatch
// ready fds, then expire timed-out connections"). It returns once the
// loop has observed the shutdown flag, leaving fd cleanup to Close.
func (s *Server) Run() error {
	for !s.closing {
		d := s.nextWaitTimeout()
		events, err := s.poller.Wait(d)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, ev := range events {
			s.handleEvent(ev, now)
		}
		for _, exp := range s.wheel.Expired(now) {
			s.handleExpired(exp)
		}
	}
	return nil
}

// Shutdown marks the loop for exit; Run observes the flag after its
// current Wait call returns, at most defaultPollTimeout later (spec.md
// §5's "outer process bootstrap" boundary — cmd/localhost calls this from
// its SIGINT/SIGTERM handler, never internal/server itself).
func (s *Server) Shutdown() {
	s.closing = true
}

// Close releases every listener and connection fd. Call it after Run
// returns.
func (s *Server) Close() error {
	for fd, c := range s.conns {
		if c.cgiProc != nil {
			c.cgiProc.Kill()
		}
		unix.Close(fd)
	}
	for fd := range s.listeners {
		unix.Close(fd)
	}
	return s.poller.Close()
}

func (s *Server) nextWaitTimeout() time.Duration {
	earliest, ok := s.wheel.Earliest()
	if !ok {
		return defaultPollTimeout
	}
	d := time.Until(earliest)
	if d < 0 {
		return 0
	}
	if d > defaultPollTimeout {
		return defaultPollTimeout
	}
	return d
}

func (s *Server) handleEvent(ev reactor.Event, now time.Time) {
	if bl, ok := s.listeners[ev.FD]; ok {
		s.acceptAll(bl, now)
		return
	}
	if c, ok := s.conns[ev.FD]; ok {
		s.handleConnEvent(c, ev, now)
		return
	}
	if c, ok := s.cgiStdinFDs[ev.FD]; ok {
		s.handleCGIStdinWritable(c, now)
		return
	}
	if c, ok := s.cgiOutFDs[ev.FD]; ok {
		s.handleCGIStdoutReadable(c, now)
		return
	}
}

func (s *Server) acceptAll(bl *boundListener, now time.Time) {
	for {
		fd, remoteAddr, err := bl.accept()
		if err != nil {
			s.log.WithError(err).Warn("accept failed")
			return
		}
		if fd < 0 {
			return // EAGAIN: no more pending connections this round
		}

		id := ids.NewConnID()
		entry := logging.ForConn(s.log, id, remoteAddr)
		c := newConnection(id, fd, remoteAddr, bl.cfg, entry)
		c.phase = PhaseReadHeaders

		if err := s.poller.Add(fd, interestFor(true, false)); err != nil {
			unix.Close(fd)
			continue
		}
		s.conns[fd] = c
		s.wheel.Set(uint64(fd), now.Add(s.cfg.Timeouts.HeaderRead), timeout.ReasonHeaderRead)
	}
}

func (s *Server) handleConnEvent(c *connection, ev reactor.Event, now time.Time) {
	switch c.phase {
	case PhaseReadHeaders, PhaseReadBody:
		if ev.Readable {
			s.readMore(c, now)
		} else if ev.HangUp {
			s.closeConn(c)
		}
	case PhaseWrite:
		if ev.Writable {
			s.writeMore(c, now)
		} else if ev.HangUp {
			s.closeConn(c)
		}
	case PhaseIdleKeepAlive:
		if ev.Readable {
			c.phase = PhaseReadHeaders
			s.wheel.Set(uint64(c.fd), now.Add(s.cfg.Timeouts.HeaderRead), timeout.ReasonHeaderRead)
			s.readMore(c, now)
		} else if ev.HangUp {
			s.closeConn(c)
		}
	default:
		if ev.HangUp {
			s.closeConn(c)
		}
	}
}

// readMore performs exactly one non-blocking read and feeds every byte it
// got to the parser, reacting to each Event the parser reports (spec.md
// §4.A's one-read-per-event rule).
func (s *Server) readMore(c *connection, now time.Time) {
	buf := make([]byte, readChunkSize)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.closeConn(c)
		return
	}
	if n == 0 {
		s.closeConn(c)
		return
	}

	data := buf[:n]
	for {
		ev := c.parser.Feed(data)
		data = nil // only the first Feed call in this batch carries new bytes
		if !s.handleParserEvent(c, ev, now) {
			return
		}
	}
}

// handleParserEvent reacts to one parser Event and reports whether the
// caller should keep draining the parser (true) or stop for now (false).
func (s *Server) handleParserEvent(c *connection, ev httpparse.Event, now time.Time) bool {
	switch ev.Kind {
	case httpparse.NeedMore:
		return false

	case httpparse.HeadersComplete:
		c.req = ev.Request
		c.decision = s.routes.Match(c.listener, c.req)
		c.parser.SetMaxBodySize(effectiveLimit(c.decision, s.cfg))
		if c.req.BodyKind == httpparse.BodyAbsent {
			c.phase = PhaseDispatch
			s.dispatch(c)
			s.afterDispatch(c, now)
			return false
		}
		c.phase = PhaseReadBody
		s.wheel.Set(uint64(c.fd), now.Add(s.cfg.Timeouts.BodyRead), timeout.ReasonBodyRead)
		return true

	case httpparse.BodyChunk:
		c.bodyBuf = append(c.bodyBuf, ev.Chunk...)
		if int64(len(c.bodyBuf)) > effectiveLimit(c.decision, s.cfg) && effectiveLimit(c.decision, s.cfg) > 0 {
			c.resp = errorResponse(413)
			c.resp.ForceClose = true
			c.phase = PhaseProduce
			s.beginWrite(c, now)
			return false
		}
		return true

	case httpparse.BodyComplete:
		c.phase = PhaseDispatch
		s.dispatch(c)
		s.afterDispatch(c, now)
		return false

	case httpparse.ProtocolError:
		c.resp = errorResponse(ev.Status)
		c.resp.ForceClose = true
		c.phase = PhaseProduce
		s.beginWrite(c, now)
		return false

	default:
		return false
	}
}

// afterDispatch starts writing the response dispatch produced, unless
// dispatch instead handed the connection off to a running CGI process
// (PhaseCGIRunning), which completes asynchronously via the CGI fd
// handlers.
func (s *Server) afterDispatch(c *connection, now time.Time) {
	if c.phase == PhaseCGIRunning {
		return
	}
	s.beginWrite(c, now)
}

func effectiveLimit(d router.Decision, cfg *config.Config) int64 {
	if d.MaxBodySize > 0 {
		return d.MaxBodySize
	}
	return cfg.MaxBodySize
}
