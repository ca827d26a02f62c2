// Package cgi implements the CGI Bridge described in spec.md §4.I: run an
// external interpreter against a script, forward the request body to its
// stdin and its stdout back as the response body, and fold both into the
// single-threaded reactor instead of blocking on the child process.
package cgi

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mmahmood233/localhost/internal/httpparse"
)

// Process is one in-flight CGI invocation. Its stdin/stdout pipe fds are
// registered with the reactor by the connection state machine exactly
// like a socket fd, per spec.md §4.I's "a pipe fd is a readiness source
// like any other" design choice.
type Process struct {
	cmd *exec.Cmd

	stdinLocal  *os.File // our end, written to, registered for write-readiness
	stdoutLocal *os.File // our end, read from, registered for read-readiness

	started time.Time
	killed  bool
}

// Start launches interpreter against script with the given CGI
// environment. It uses two raw os.Pipe() pairs (stdin and stdout; the
// child's stderr is the server's own) rather than
// exec.Cmd.StdinPipe/StdoutPipe so the fds it keeps are known, plain
// os.File values it can put in non-blocking mode and hand to the reactor
// itself (spec.md §4.I: no exec.Cmd.Run/Output convenience helpers).
func Start(interpreter, scriptPath, workDir string, env []string) (*Process, error) {
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "cgi: stdin pipe")
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, pkgerrors.Wrap(err, "cgi: stdout pipe")
	}

	cmd := exec.Command(interpreter, scriptPath)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.Stdin = stdinRead
	cmd.Stdout = stdoutWrite
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, pkgerrors.Wrap(err, "cgi: start interpreter")
	}

	// The child inherited its own copies of the remote ends at fork; close
	// our copies so EOF propagates correctly once the child exits.
	stdinRead.Close()
	stdoutWrite.Close()

	if err := setNonBlocking(stdinWrite); err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	if err := setNonBlocking(stdoutRead); err != nil {
		cmd.Process.Kill()
		return nil, err
	}

	return &Process{
		cmd:         cmd,
		stdinLocal:  stdinWrite,
		stdoutLocal: stdoutRead,
		started:     time.Now(),
	}, nil
}

func setNonBlocking(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), true)
}

// StdinFD is the fd to register for write-readiness while request body
// bytes remain to be forwarded.
func (p *Process) StdinFD() int { return int(p.stdinLocal.Fd()) }

// StdoutFD is the fd to register for read-readiness while the response is
// being produced.
func (p *Process) StdoutFD() int { return int(p.stdoutLocal.Fd()) }

// WriteStdin performs one non-blocking write of up to len(p) bytes,
// matching the reactor's one-write-per-readiness-event rule (spec.md
// §4.A/§4.J).
func (p *Process) WriteStdin(b []byte) (int, error) {
	return p.stdinLocal.Write(b)
}

// CloseStdin signals end-of-request-body to the child. Required even for
// empty bodies so scripts reading stdin to EOF don't hang.
func (p *Process) CloseStdin() error {
	return p.stdinLocal.Close()
}

// ReadStdout performs one non-blocking read of up to len(buf) bytes.
func (p *Process) ReadStdout(buf []byte) (int, error) {
	return p.stdoutLocal.Read(buf)
}

// CloseStdout releases our end of the stdout pipe once fully drained.
func (p *Process) CloseStdout() error {
	return p.stdoutLocal.Close()
}

// Kill sends SIGKILL, used when a CGI phase deadline (spec.md §4.B)
// expires.
func (p *Process) Kill() error {
	if p.killed {
		return nil
	}
	p.killed = true
	return p.cmd.Process.Signal(syscall.SIGKILL)
}

// Wait reaps the child via exec.Cmd.Wait, which blocks until the child
// has exited; the caller invokes it after observing stdout EOF, when the
// child has normally already exited.
func (p *Process) Wait() (exitCode int, err error) {
	err = p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Elapsed reports how long the process has been running, for the caller
// to compare against the route's CGI timeout.
func (p *Process) Elapsed() time.Duration {
	return time.Since(p.started)
}

// ResolveScript maps a route's CGI extension map plus a request path to
// the interpreter path and on-disk script path, returning ok=false when
// the extension has no configured interpreter.
func ResolveScript(docRoot, requestPath string, cgiMap map[string]string) (interpreter, scriptPath string, ok bool) {
	ext := extOf(requestPath)
	interp, found := cgiMap[ext]
	if !found {
		return "", "", false
	}
	return interp, docRoot + requestPath, true
}

func extOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '.' {
			return p[i:]
		}
		if p[i] == '/' {
			break
		}
	}
	return ""
}

// BuildRequestEnv is a thin convenience wrapper over BuildEnv that also
// supplies a human-readable error when req is nil, which should never
// happen for a parsed request but guards CGI-specific callers.
func BuildRequestEnv(req *httpparse.Request, serverName string, serverPort int, remoteAddr, scriptName, scriptFilename, pathInfo string) ([]string, error) {
	if req == nil {
		return nil, fmt.Errorf("cgi: nil request")
	}
	return BuildEnv(req, serverName, serverPort, remoteAddr, scriptName, scriptFilename, pathInfo), nil
}
