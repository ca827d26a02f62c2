// Package ids mints identifiers used to correlate log lines across a
// connection's lifetime and across a CGI invocation.
package ids

import "github.com/google/uuid"

// NewConnID returns a new random connection identifier.
func NewConnID() string {
	return uuid.New().String()
}
