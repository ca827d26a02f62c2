package cgi

import (
	"fmt"
	"strings"

	"github.com/mmahmood233/localhost/internal/httpheader"
	"github.com/mmahmood233/localhost/internal/httpparse"
)

// BuildEnv constructs the CGI/1.1 environment variables for req, per
// spec.md §4.I. Header fields not named by the CGI/1.1 spec's own
// variables are forwarded as HTTP_<NAME> using the same conversion CGI
// scripts expect (uppercase, each '-' replaced by '_'; see
// httpheader.EnvName).
func BuildEnv(req *httpparse.Request, serverName string, serverPort int, remoteAddr, scriptName, scriptFilename, pathInfo string) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=" + fmt.Sprintf("HTTP/%d.%d", req.ProtoMajor, req.ProtoMinor),
		"SERVER_SOFTWARE=localhost/1.0",
		"SERVER_NAME=" + serverName,
		"SERVER_PORT=" + fmt.Sprintf("%d", serverPort),
		"REQUEST_METHOD=" + req.MethodToken,
		"REQUEST_URI=" + req.Target,
		"SCRIPT_NAME=" + scriptName,
		"SCRIPT_FILENAME=" + scriptFilename,
		"PATH_INFO=" + pathInfo,
		"QUERY_STRING=" + req.Query,
		"REMOTE_ADDR=" + remoteAddr,
		"REMOTE_PORT=" + remotePortOf(remoteAddr),
		"REDIRECT_STATUS=200", // satisfies php-cgi's security check
	}

	if req.Header != nil {
		if ct := req.Header.Get("Content-Type"); ct != "" {
			env = append(env, "CONTENT_TYPE="+ct)
		}
		if cl := req.Header.Get("Content-Length"); cl != "" {
			env = append(env, "CONTENT_LENGTH="+cl)
		}
		for _, key := range req.Header.Keys() {
			switch strings.ToLower(key) {
			case "content-type", "content-length":
				continue
			}
			env = append(env, httpheader.EnvName(key)+"="+req.Header.Get(key))
		}
	}

	return env
}

// remotePortOf extracts the port from a "host:port" peer address, as
// formatted by server.formatSockaddr. Returns "" if remoteAddr carries no
// recognizable port.
func remotePortOf(remoteAddr string) string {
	i := strings.LastIndex(remoteAddr, ":")
	if i < 0 || i == len(remoteAddr)-1 {
		return ""
	}
	return remoteAddr[i+1:]
}

// ParseHeaderBlock splits a CGI response's header block (terminated by a
// blank line) into header fields and a status line override, per the
// CGI/1.1 "Status:" convention (spec.md §4.I).
func ParseHeaderBlock(block []byte) (status int, header *httpheader.Header, err error) {
	status = 200
	header = httpheader.New()

	lines := strings.Split(string(block), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return 0, nil, fmt.Errorf("cgi: malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if strings.EqualFold(name, "Status") {
			fmt.Sscanf(value, "%d", &status)
			continue
		}
		header.Add(name, value)
	}
	return status, header, nil
}
