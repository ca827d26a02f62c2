package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// rawConfig mirrors the YAML shape documented in SPEC_FULL.md §6; it is
// translated into Config (with time.Duration timeouts and int->string
// error-page maps) by Load, then validated by Validate.
type rawConfig struct {
	Listeners []struct {
		Address      string `yaml:"address"`
		Port         int    `yaml:"port"`
		DefaultVHost string `yaml:"default_vhost"`
		VHosts       []struct {
			Name             string            `yaml:"name"`
			ServerNames      []string          `yaml:"server_names"`
			Default          bool              `yaml:"default"`
			DocumentRoot     string            `yaml:"document_root"`
			ErrorPages       map[string]string `yaml:"error_pages"`
			MaxBodySize      int64             `yaml:"max_body_size"`
			Routes           []rawRoute        `yaml:"routes"`
		} `yaml:"vhosts"`
	} `yaml:"listeners"`

	Timeouts struct {
		HeaderReadSeconds    int `yaml:"header_read_seconds"`
		BodyReadSeconds      int `yaml:"body_read_seconds"`
		WriteSeconds         int `yaml:"write_seconds"`
		KeepAliveIdleSeconds int `yaml:"keep_alive_idle_seconds"`
		WholeRequestSeconds  int `yaml:"whole_request_seconds"`
	} `yaml:"timeouts"`

	MaxBodySize    int64 `yaml:"max_body_size"`
	MaxHeaderBytes int   `yaml:"max_header_bytes"`
}

type rawRoute struct {
	Path             string            `yaml:"path"`
	Methods          []string          `yaml:"methods"`
	MaxBodySize      int64             `yaml:"max_body_size"`
	Redirect         *rawRedirect      `yaml:"redirect"`
	Reject           bool              `yaml:"reject"`
	Index            []string          `yaml:"index"`
	DirectoryListing bool              `yaml:"directory_listing"`
	CGI              map[string]string `yaml:"cgi"`
	UploadDir        string            `yaml:"upload_dir"`
	DeleteWhitelist  string            `yaml:"delete_whitelist"`
}

type rawRedirect struct {
	Status int    `yaml:"status"`
	Target string `yaml:"target"`
}

// Load reads and validates the YAML configuration at path, producing the
// in-memory object internal/server consumes for the life of the process.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(f, &raw); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}

	cfg := &Config{
		MaxBodySize:    raw.MaxBodySize,
		MaxHeaderBytes: raw.MaxHeaderBytes,
		Timeouts:       DefaultTimeouts(),
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 8 << 10
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if s := raw.Timeouts.HeaderReadSeconds; s > 0 {
		cfg.Timeouts.HeaderRead = time.Duration(s) * time.Second
	}
	if s := raw.Timeouts.BodyReadSeconds; s > 0 {
		cfg.Timeouts.BodyRead = time.Duration(s) * time.Second
	}
	if s := raw.Timeouts.WriteSeconds; s > 0 {
		cfg.Timeouts.Write = time.Duration(s) * time.Second
	}
	if s := raw.Timeouts.KeepAliveIdleSeconds; s > 0 {
		cfg.Timeouts.KeepAliveIdle = time.Duration(s) * time.Second
	}
	if s := raw.Timeouts.WholeRequestSeconds; s > 0 {
		cfg.Timeouts.WholeRequest = time.Duration(s) * time.Second
	}

	for _, rl := range raw.Listeners {
		lst := Listener{Address: rl.Address, Port: rl.Port, DefaultVHost: rl.DefaultVHost}
		for _, rv := range rl.VHosts {
			vh := VirtualHost{
				ServerNames:  rv.ServerNames,
				Default:      rv.Default,
				DocumentRoot: rv.DocumentRoot,
				MaxBodySize:  rv.MaxBodySize,
				ErrorPages:   map[int]string{},
			}
			for code, p := range rv.ErrorPages {
				var n int
				if _, err := fmt.Sscanf(code, "%d", &n); err != nil {
					return nil, errors.Wrapf(err, "config: invalid error page status %q", code)
				}
				vh.ErrorPages[n] = p
			}
			for _, rr := range rv.Routes {
				route := Route{
					Path:             rr.Path,
					Methods:          rr.Methods,
					MaxBodySize:      rr.MaxBodySize,
					Reject:           rr.Reject,
					DocumentRoot:     vh.DocumentRoot,
					Index:            rr.Index,
					DirectoryListing: rr.DirectoryListing,
					CGI:              rr.CGI,
					UploadDir:        rr.UploadDir,
					DeleteWhitelist:  rr.DeleteWhitelist,
				}
				if rr.Redirect != nil {
					route.Redirect = &Redirect{Status: rr.Redirect.Status, Target: rr.Redirect.Target}
				}
				vh.Routes = append(vh.Routes, route)
			}
			lst.VHosts = append(lst.VHosts, vh)
		}
		cfg.Listeners = append(cfg.Listeners, lst)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
