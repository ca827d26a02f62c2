// Package config holds the validated, immutable in-memory configuration
// object spec.md §6 describes as an external collaborator: parsing a
// config file is a bootstrap concern (see cmd/localhost), but the
// resulting tree is what internal/router and internal/server consume for
// the lifetime of the process.
//
// The Listener → VirtualHost → Route graph is built once and never
// mutated afterwards (spec.md §9); it is represented as plain slices so
// every reference is a value copy or a slice index, never a pointer cycle.
package config

import "time"

// Config is the root validated object.
type Config struct {
	Listeners     []Listener
	Timeouts      Timeouts
	MaxBodySize   int64 // global fallback
	MaxHeaderBytes int
}

// Listener owns one bound address/port pair and the virtual hosts it
// serves (spec.md §3 "Listener").
type Listener struct {
	Address       string
	Port          int
	VHosts        []VirtualHost
	DefaultVHost  string // default_vhost value from the file; router.SelectVHost does not read it and uses VirtualHost.Default instead
}

// VirtualHost is one named HTTP origin on a Listener (spec.md §3
// "VirtualHost").
type VirtualHost struct {
	ServerNames  []string
	Default      bool
	DocumentRoot string
	ErrorPages   map[int]string // status -> file path
	Routes       []Route
	MaxBodySize  int64 // 0 means "inherit"
}

// Route is a configured mapping from a path pattern + method set to a
// terminal action (spec.md §3 "Route").
type Route struct {
	Path    string // exact path, or "prefix/*"
	Methods []string

	MaxBodySize int64 // 0 means "inherit"

	// Exactly one of the following describes the terminal action; Redirect
	// and Reject are checked first by router.Table.Match, then CGI/
	// UploadDir/static fall out of which fields are set.
	Redirect *Redirect
	Reject   bool

	DocumentRoot     string            // SERVE_STATIC
	Index            []string          // SERVE_STATIC index file names
	DirectoryListing bool              // SERVE_STATIC
	CGI              map[string]string // RUN_CGI: extension -> interpreter path
	UploadDir        string            // upload/delete terminal action
	DeleteWhitelist  string            // prefix DELETE is permitted under; defaults to "/uploads/" (see DeleteAllowedPrefix)
}

// Redirect describes a REDIRECT terminal action.
type Redirect struct {
	Status int // one of 301, 302, 303, 307, 308
	Target string
}

// Timeouts holds the five phase deadlines of spec.md §4.B.
type Timeouts struct {
	HeaderRead    time.Duration
	BodyRead      time.Duration
	Write         time.Duration
	KeepAliveIdle time.Duration
	WholeRequest  time.Duration
}

// DefaultTimeouts returns the defaults named in spec.md §4.B.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		HeaderRead:    5 * time.Second,
		BodyRead:      15 * time.Second,
		Write:         5 * time.Second,
		KeepAliveIdle: 10 * time.Second,
		WholeRequest:  30 * time.Second,
	}
}

// Matches reports whether path satisfies the route's path spec, per
// spec.md §4.F step 3: exact match, or a "/*"-suffixed prefix match.
func (r *Route) Matches(path string) bool {
	if !isWildcard(r.Path) {
		return r.Path == path
	}
	prefix := r.Path[:len(r.Path)-2]
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func isWildcard(spec string) bool {
	return len(spec) >= 2 && spec[len(spec)-2:] == "/*"
}

// AllowsMethod reports whether method is in the route's allowed set.
func (r *Route) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// EffectiveMaxBodySize resolves the route > vhost > global precedence of
// spec.md §3.
func (r *Route) EffectiveMaxBodySize(vhost *VirtualHost, cfg *Config) int64 {
	if r.MaxBodySize > 0 {
		return r.MaxBodySize
	}
	if vhost != nil && vhost.MaxBodySize > 0 {
		return vhost.MaxBodySize
	}
	return cfg.MaxBodySize
}

// DeleteAllowedPrefix returns the prefix under which DELETE is permitted
// for this route, defaulting to "/uploads/" per spec.md §4.H.
func (r *Route) DeleteAllowedPrefix() string {
	if r.DeleteWhitelist != "" {
		return r.DeleteWhitelist
	}
	if r.UploadDir != "" {
		return "/uploads/"
	}
	return "/uploads/"
}
