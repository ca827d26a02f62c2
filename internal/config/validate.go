package config

import "github.com/pkg/errors"

// Validate checks the structural invariants spec.md and SPEC_FULL.md §8
// require of a configuration tree before it is handed to the router and
// server packages. It never mutates cfg.
func Validate(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return errors.New("config: at least one listener is required")
	}

	for li := range cfg.Listeners {
		lst := &cfg.Listeners[li]
		if lst.Port <= 0 || lst.Port > 65535 {
			return errors.Errorf("config: listener %d: invalid port %d", li, lst.Port)
		}
		if len(lst.VHosts) == 0 {
			return errors.Errorf("config: listener %d: at least one vhost is required", li)
		}

		defaults := 0
		seenNames := map[string]bool{}
		for vi := range lst.VHosts {
			vh := &lst.VHosts[vi]
			if vh.Default {
				defaults++
			}
			for _, name := range vh.ServerNames {
				key := vi2key(name)
				if seenNames[key] {
					return errors.Errorf("config: listener %d: server_name %q registered on more than one vhost", li, name)
				}
				seenNames[key] = true
			}
			if vh.DocumentRoot == "" && !hasNonStaticRoute(vh) {
				return errors.Errorf("config: listener %d vhost %d: document_root required", li, vi)
			}
			for ri := range vh.Routes {
				if err := validateRoute(&vh.Routes[ri]); err != nil {
					return errors.Wrapf(err, "config: listener %d vhost %d route %d", li, vi, ri)
				}
			}
		}
		if defaults > 1 {
			return errors.Errorf("config: listener %d: more than one default vhost", li)
		}
	}
	return nil
}

func hasNonStaticRoute(vh *VirtualHost) bool {
	for i := range vh.Routes {
		r := &vh.Routes[i]
		if r.Redirect != nil || r.Reject || len(r.CGI) > 0 || r.UploadDir != "" {
			return true
		}
	}
	return false
}

func validateRoute(r *Route) error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if len(r.Methods) == 0 {
		return errors.New("at least one method is required")
	}
	if r.Redirect != nil {
		switch r.Redirect.Status {
		case 301, 302, 303, 307, 308:
		default:
			return errors.Errorf("invalid redirect status %d", r.Redirect.Status)
		}
		if r.Redirect.Target == "" {
			return errors.New("redirect target is required")
		}
	}
	if r.MaxBodySize < 0 {
		return errors.New("max_body_size must not be negative")
	}
	return nil
}

func vi2key(s string) string {
	// server names are matched case-insensitively by router.SelectVHost;
	// normalize the same way here so duplicate-detection agrees with it.
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
