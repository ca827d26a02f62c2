// Package router implements the Route Table described in spec.md §4.F: it
// matches (listener, host, method, path) to a route decision over the
// immutable Listener → VirtualHost → Route tree spec.md §9 describes as an
// array-of-indices DAG built once at startup.
package router

import (
	"strings"

	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/httpparse"
)

// Decision is the deterministic outcome of matching one request, per
// spec.md §4.F.
type Decision struct {
	Kind   DecisionKind
	Route  *config.Route      // nil for NotFound
	VHost  *config.VirtualHost
	Allow  []string // set for MethodNotAllowed
	MaxBodySize int64
}

type DecisionKind int

const (
	DecisionServeStatic DecisionKind = iota
	DecisionRunCGI
	DecisionUploadDelete
	DecisionRedirect
	DecisionReject403
	DecisionMethodNotAllowed
	DecisionNotFound
)

// Table wraps the immutable configuration tree with the matching algorithm.
// A Table is built once at startup and shared by reference across every
// Listener and Connection (spec.md §9).
type Table struct {
	cfg *config.Config
}

// New returns a Table over cfg. cfg must not be mutated afterwards.
func New(cfg *config.Config) *Table {
	return &Table{cfg: cfg}
}

// SelectVHost picks the VirtualHost for listener lst given the request's
// Host header host-portion, per spec.md §4.F step 2.
func SelectVHost(lst *config.Listener, host string) *config.VirtualHost {
	for i := range lst.VHosts {
		v := &lst.VHosts[i]
		for _, name := range v.ServerNames {
			if strings.EqualFold(name, host) {
				return v
			}
		}
	}
	for i := range lst.VHosts {
		if lst.VHosts[i].Default {
			return &lst.VHosts[i]
		}
	}
	if len(lst.VHosts) > 0 {
		return &lst.VHosts[0]
	}
	return nil
}

// Match runs the full selection algorithm of spec.md §4.F steps 3-6 for a
// request already routed to listener lst.
func (t *Table) Match(lst *config.Listener, req *httpparse.Request) Decision {
	vhost := SelectVHost(lst, req.Host)
	if vhost == nil {
		return Decision{Kind: DecisionNotFound}
	}

	route := matchRoute(vhost, req.Path)
	if route == nil {
		return Decision{Kind: DecisionNotFound, VHost: vhost}
	}

	if !route.AllowsMethod(req.Method.String()) {
		return Decision{Kind: DecisionMethodNotAllowed, VHost: vhost, Route: route, Allow: route.Methods}
	}

	limit := route.EffectiveMaxBodySize(vhost, t.cfg)

	if route.Redirect != nil {
		return Decision{Kind: DecisionRedirect, VHost: vhost, Route: route, MaxBodySize: limit}
	}
	if route.Reject {
		return Decision{Kind: DecisionReject403, VHost: vhost, Route: route, MaxBodySize: limit}
	}
	if len(route.CGI) > 0 || hasCGIExtension(route, req.Path) {
		return Decision{Kind: DecisionRunCGI, VHost: vhost, Route: route, MaxBodySize: limit}
	}
	if route.UploadDir != "" {
		return Decision{Kind: DecisionUploadDelete, VHost: vhost, Route: route, MaxBodySize: limit}
	}
	return Decision{Kind: DecisionServeStatic, VHost: vhost, Route: route, MaxBodySize: limit}
}

// matchRoute scans vhost's routes in declaration order, picking the
// longest matching path spec with ties broken by declaration order
// (spec.md §4.F step 3).
func matchRoute(vhost *config.VirtualHost, path string) *config.Route {
	var best *config.Route
	bestLen := -1
	for i := range vhost.Routes {
		r := &vhost.Routes[i]
		if !r.Matches(path) {
			continue
		}
		l := len(r.Path)
		if l > bestLen {
			best = r
			bestLen = l
		}
	}
	return best
}

func hasCGIExtension(route *config.Route, path string) bool {
	if len(route.CGI) == 0 {
		return false
	}
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return false
	}
	ext := path[dot:]
	_, ok := route.CGI[ext]
	return ok
}
