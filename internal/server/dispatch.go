package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmahmood233/localhost/internal/cgi"
	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/response"
	"github.com/mmahmood233/localhost/internal/router"
	"github.com/mmahmood233/localhost/internal/static"
	"github.com/mmahmood233/localhost/internal/timeout"
	"github.com/mmahmood233/localhost/internal/upload"
)

// dispatch turns a routed request into a Response, per spec.md §4.J's
// DISPATCH phase. It never blocks: CGI is handed off to startCGI instead
// of running synchronously.
func (s *Server) dispatch(c *connection) {
	d := c.decision
	switch d.Kind {
	case router.DecisionNotFound:
		c.resp = errorResponse(404)
	case router.DecisionMethodNotAllowed:
		c.resp = errorResponse(405)
		c.resp.Header.Set("Allow", strings.Join(d.Allow, ", "))
	case router.DecisionReject403:
		c.resp = errorResponse(403)
	case router.DecisionRedirect:
		c.resp = response.New(d.Route.Redirect.Status)
		c.resp.Header.Set("Location", d.Route.Redirect.Target)
		c.resp.BodyKind = response.BodyEmpty
	case router.DecisionServeStatic:
		s.dispatchStatic(c, d)
	case router.DecisionUploadDelete:
		s.dispatchUpload(c, d)
	case router.DecisionRunCGI:
		s.startCGI(c, d)
		return // response arrives asynchronously; stay in PhaseCGIRunning
	default:
		c.resp = errorResponse(500)
	}
	c.phase = PhaseProduce
}

func (s *Server) dispatchStatic(c *connection, d router.Decision) {
	if c.req.Method.String() != "GET" && c.req.Method.String() != "HEAD" {
		c.resp = errorResponse(405)
		c.resp.Header.Set("Allow", "GET, HEAD")
		return
	}
	h := &static.Handler{
		DocumentRoot:     d.Route.DocumentRoot,
		DirectoryListing: d.Route.DirectoryListing,
	}
	if len(d.Route.Index) > 0 {
		h.Index = d.Route.Index[0]
	}

	suffix := strings.TrimPrefix(c.req.Path, routePrefix(d.Route))
	result := h.Resolve(suffix)

	switch result.Kind {
	case static.KindNotFound:
		c.resp = errorResponse(404)
	case static.KindForbidden:
		c.resp = errorResponse(403)
	case static.KindListing:
		var b strings.Builder
		static.RenderListing(&b, c.req.Path, result.Entries)
		c.resp = response.New(200)
		c.resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		c.resp.WithBytes([]byte(b.String()))
	case static.KindFile:
		c.resp = response.New(200)
		c.resp.Header.Set("Content-Type", result.ContentType)
		c.resp.Header.Set("Last-Modified", result.ModTime.UTC().Format(response.TimeFormat))
		c.resp.WithFile(result.File, result.Size)
		if c.req.Method.String() == "HEAD" {
			c.resp.SuppressBody = true
		}
	}
}

func routePrefix(r *config.Route) string {
	p := r.Path
	if strings.HasSuffix(p, "/*") {
		return p[:len(p)-1]
	}
	return p
}

func (s *Server) dispatchUpload(c *connection, d router.Decision) {
	h := &upload.Handler{
		Dir:             d.Route.UploadDir,
		DeleteWhitelist: d.Route.DeleteAllowedPrefix(),
		MaxBodySize:     d.MaxBodySize,
	}

	switch c.req.Method.String() {
	case "DELETE":
		result := h.Delete(c.req.Path)
		switch result.Outcome {
		case upload.OutcomeDeleted:
			c.resp = response.New(204)
			c.resp.BodyKind = response.BodyEmpty
		case upload.OutcomeNotFound:
			c.resp = errorResponse(404)
		default:
			c.resp = errorResponse(403)
		}
	case "POST":
		ct := c.req.Header.Get("Content-Type")
		result := h.Store(c.req.Path, ct, c.bodyBuf)
		switch result.Outcome {
		case upload.OutcomeCreated:
			c.resp = response.New(201)
			c.resp.Header.Set("Location", c.req.Path+result.Filename)
			c.resp.BodyKind = response.BodyEmpty
		case upload.OutcomeTooLarge:
			c.resp = errorResponse(413)
		case upload.OutcomeBadRequest:
			c.resp = errorResponse(400)
		default:
			c.resp = errorResponse(403)
		}
	default:
		c.resp = errorResponse(405)
		c.resp.Header.Set("Allow", "POST, DELETE")
	}
}

// startCGI launches the interpreter and registers its pipe fds with the
// reactor, per spec.md §4.I. The connection stays in PhaseCGIRunning until
// the child's stdout reaches EOF.
func (s *Server) startCGI(c *connection, d router.Decision) {
	interpreter, scriptPath, ok := cgi.ResolveScript(d.Route.DocumentRoot, c.req.Path, d.Route.CGI)
	if !ok {
		c.resp = errorResponse(404)
		c.phase = PhaseProduce
		return
	}

	env, _ := cgi.BuildRequestEnv(c.req, vhostName(d.VHost), s.listenerPort(c), c.remoteAddr, c.req.Path, scriptPath, "")
	proc, err := cgi.Start(interpreter, scriptPath, d.Route.DocumentRoot, env)
	if err != nil {
		s.log.WithError(err).Warn("cgi: failed to start interpreter")
		c.resp = errorResponse(502)
		c.phase = PhaseProduce
		return
	}

	c.cgiProc = proc
	c.phase = PhaseCGIRunning

	s.poller.Add(proc.StdinFD(), interestFor(false, true))
	s.cgiStdinFDs[proc.StdinFD()] = c
	s.poller.Add(proc.StdoutFD(), interestFor(true, false))
	s.cgiOutFDs[proc.StdoutFD()] = c

	s.wheel.Set(uint64(c.fd), time.Now().Add(s.cfg.Timeouts.WholeRequest), timeout.ReasonWholeRequest)

	if len(c.bodyBuf) == 0 {
		proc.CloseStdin()
		delete(s.cgiStdinFDs, proc.StdinFD())
		s.poller.Remove(proc.StdinFD())
	}
}

func vhostName(v *config.VirtualHost) string {
	if v != nil && len(v.ServerNames) > 0 {
		return v.ServerNames[0]
	}
	return ""
}

func (s *Server) listenerPort(c *connection) int {
	if c.listener != nil {
		return c.listener.Port
	}
	return 0
}

func errorResponse(status int) *response.Response {
	r := response.New(status)
	body := fmt.Sprintf("%d %s\n", status, response.ReasonPhrase(status))
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.WithBytes([]byte(body))
	if status >= 500 {
		r.ForceClose = true
	}
	return r
}
