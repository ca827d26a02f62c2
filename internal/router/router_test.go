package router

import (
	"testing"

	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/httpheader"
	"github.com/mmahmood233/localhost/internal/httpparse"
)

func testListener() *config.Listener {
	return &config.Listener{
		Address: "0.0.0.0",
		Port:    8080,
		VHosts: []config.VirtualHost{
			{
				ServerNames:  []string{"example.com"},
				DocumentRoot: "/var/www/example",
				Routes: []config.Route{
					{Path: "/", Methods: []string{"GET", "HEAD"}, DocumentRoot: "/var/www/example"},
					{Path: "/uploads/*", Methods: []string{"POST", "DELETE"}, UploadDir: "/var/uploads"},
					{Path: "/cgi-bin/*", Methods: []string{"GET", "POST"}, CGI: map[string]string{".py": "/usr/bin/python3"}},
					{Path: "/old", Methods: []string{"GET"}, Redirect: &config.Redirect{Status: 301, Target: "/new"}},
					{Path: "/secret", Methods: []string{"GET"}, Reject: true},
				},
			},
			{
				Default:      true,
				ServerNames:  []string{},
				DocumentRoot: "/var/www/default",
				Routes: []config.Route{
					{Path: "/", Methods: []string{"GET"}, DocumentRoot: "/var/www/default"},
				},
			},
		},
	}
}

func testRequest(method httpparse.Method, host, path string) *httpparse.Request {
	return &httpparse.Request{
		Method: method,
		Path:   path,
		Host:   host,
		Header: httpheader.New(),
	}
}

func TestSelectVHostByServerName(t *testing.T) {
	lst := testListener()
	v := SelectVHost(lst, "example.com")
	if v == nil || v.DocumentRoot != "/var/www/example" {
		t.Fatalf("SelectVHost(example.com) = %+v, want the example.com vhost", v)
	}
}

func TestSelectVHostFallsBackToDefault(t *testing.T) {
	lst := testListener()
	v := SelectVHost(lst, "unknown-host.test")
	if v == nil || v.DocumentRoot != "/var/www/default" {
		t.Fatalf("SelectVHost(unknown) = %+v, want the default vhost", v)
	}
}

func TestMatchServeStatic(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "example.com", "/"))
	if d.Kind != DecisionServeStatic {
		t.Errorf("Kind = %v, want DecisionServeStatic", d.Kind)
	}
}

func TestMatchLongestPrefixWins(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodPost, "example.com", "/uploads/file.txt"))
	if d.Kind != DecisionUploadDelete {
		t.Errorf("Kind = %v, want DecisionUploadDelete", d.Kind)
	}
}

func TestMatchMethodNotAllowed(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodDelete, "example.com", "/"))
	if d.Kind != DecisionMethodNotAllowed {
		t.Fatalf("Kind = %v, want DecisionMethodNotAllowed", d.Kind)
	}
	if len(d.Allow) != 2 || d.Allow[0] != "GET" {
		t.Errorf("Allow = %v, want [GET HEAD]", d.Allow)
	}
}

func TestMatchNotFound(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "example.com", "/does/not/exist"))
	if d.Kind != DecisionNotFound {
		t.Errorf("Kind = %v, want DecisionNotFound", d.Kind)
	}
}

func TestMatchRedirect(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "example.com", "/old"))
	if d.Kind != DecisionRedirect {
		t.Fatalf("Kind = %v, want DecisionRedirect", d.Kind)
	}
	if d.Route.Redirect.Target != "/new" {
		t.Errorf("Redirect.Target = %q, want /new", d.Route.Redirect.Target)
	}
}

func TestMatchReject403(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "example.com", "/secret"))
	if d.Kind != DecisionReject403 {
		t.Errorf("Kind = %v, want DecisionReject403", d.Kind)
	}
}

func TestMatchRunCGIByExtension(t *testing.T) {
	lst := testListener()
	table := New(&config.Config{})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "example.com", "/cgi-bin/hello.py"))
	if d.Kind != DecisionRunCGI {
		t.Errorf("Kind = %v, want DecisionRunCGI", d.Kind)
	}
}

func TestMatchUsesEffectiveMaxBodySize(t *testing.T) {
	lst := &config.Listener{
		VHosts: []config.VirtualHost{
			{
				Default:     true,
				MaxBodySize: 2048,
				Routes: []config.Route{
					{Path: "/", Methods: []string{"GET"}, DocumentRoot: "/var/www"},
				},
			},
		},
	}
	table := New(&config.Config{MaxBodySize: 1024})
	d := table.Match(lst, testRequest(httpparse.MethodGet, "any", "/"))
	if d.MaxBodySize != 2048 {
		t.Errorf("MaxBodySize = %d, want 2048 (vhost overrides global)", d.MaxBodySize)
	}
}
