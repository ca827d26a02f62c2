// Package logging centralizes the structured-log field names and logrus
// setup used across the server, following the field-constant convention
// nabbar-golib's logger/types package uses for its logrus.Fields keys.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Field name constants, used as logrus.Fields keys so every package logs
// the same vocabulary instead of inventing ad hoc key strings.
const (
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldPhase      = "phase"
	FieldRoute      = "route"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldReason     = "reason"
	FieldListener   = "listener"
)

// New builds the process-wide logrus.Logger. Output goes to stderr as
// plain text in development and JSON when LOCALHOST_LOG_JSON is set, kept
// deliberately simple since spec.md's Non-goals exclude a metrics/tracing
// stack.
func New(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	if os.Getenv("LOCALHOST_LOG_JSON") != "" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// ForConn returns a log entry pre-populated with a connection's identity,
// the fields every per-connection log line in internal/server carries.
func ForConn(l *logrus.Logger, connID string, remoteAddr string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		FieldConnID:     connID,
		FieldRemoteAddr: remoteAddr,
	})
}
