// Package upload implements the Upload/Delete Handler described in
// spec.md §4.H: accept a POST body (multipart/form-data or a raw bytes
// body) and write it under a route's upload directory without ever
// trusting the client's chosen filename, and accept DELETE requests
// scoped to a whitelist prefix.
//
// The body has already been fully assembled by internal/httpparse and
// internal/httpparse/chunked by the time it reaches here (spec.md's
// component boundary between framing and terminal actions), so this
// package only deals with bytes already in memory.
package upload

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Outcome reports what happened to a write/delete attempt so the caller
// can pick the right status code (spec.md §4.H: 201 created, 403
// forbidden, 404 not found, 413 too large).
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeDeleted
	OutcomeForbidden
	OutcomeNotFound
	OutcomeTooLarge
	OutcomeBadRequest
)

// Result is returned by Store and Delete.
type Result struct {
	Outcome  Outcome
	Path     string // disk path written/removed, for logging
	Filename string // sanitized filename chosen, for building a Location header
	Err      error
}

// Handler stores uploads under Dir and permits DELETE only beneath
// DeleteWhitelist.
type Handler struct {
	Dir             string
	DeleteWhitelist string
	MaxBodySize     int64
}

// Store writes body to Dir, using contentType to decide whether it is a
// multipart/form-data submission (the first file part wins, per spec.md's
// single-file-per-request scope) or a raw body to be named from the
// request path's final segment.
func (h *Handler) Store(requestPath string, contentType string, body []byte) Result {
	if int64(len(body)) > h.MaxBodySize && h.MaxBodySize > 0 {
		return Result{Outcome: OutcomeTooLarge}
	}
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return Result{Outcome: OutcomeForbidden, Err: errors.Wrap(err, "upload: create directory")}
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "multipart/form-data" {
		return h.storeMultipart(params["boundary"], body)
	}
	return h.storeRaw(requestPath, body)
}

func (h *Handler) storeMultipart(boundary string, body []byte) Result {
	if boundary == "" {
		return Result{Outcome: OutcomeBadRequest, Err: errors.New("upload: missing multipart boundary")}
	}
	reader := multipart.NewReader(newByteReader(body), boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return Result{Outcome: OutcomeBadRequest, Err: errors.New("upload: no file part in form")}
		}
		if err != nil {
			return Result{Outcome: OutcomeBadRequest, Err: errors.Wrap(err, "upload: read multipart")}
		}
		if part.FileName() == "" {
			part.Close()
			continue // plain form field, not a file upload; skip to the next part
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return Result{Outcome: OutcomeBadRequest, Err: errors.Wrap(err, "upload: read part body")}
		}
		return h.writeFile(sanitizeFilename(part.FileName()), data)
	}
}

func (h *Handler) storeRaw(requestPath string, body []byte) Result {
	name := sanitizeFilename(filepath.Base(requestPath))
	if name == "" || name == "." || name == "/" {
		name = "upload.bin"
	}
	return h.writeFile(name, body)
}

// writeFile picks a collision-free name under Dir and writes data with
// O_CREAT|O_WRONLY|O_EXCL, per spec.md §4.H's "never silently overwrite an
// existing upload" rule, trying name, then name-1, name-2, and so on.
func (h *Handler) writeFile(name string, data []byte) Result {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for attempt := 0; attempt < 10000; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, attempt, ext)
		}
		full := filepath.Join(h.Dir, candidate)
		f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return Result{Outcome: OutcomeForbidden, Err: errors.Wrap(err, "upload: open destination")}
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil {
			os.Remove(full)
			return Result{Outcome: OutcomeForbidden, Err: errors.Wrap(werr, "upload: write destination")}
		}
		if cerr != nil {
			return Result{Outcome: OutcomeForbidden, Err: errors.Wrap(cerr, "upload: close destination")}
		}
		return Result{Outcome: OutcomeCreated, Path: full, Filename: candidate}
	}
	return Result{Outcome: OutcomeForbidden, Err: errors.New("upload: exhausted collision suffixes")}
}

// Delete removes the file named by requestPath if it falls under
// DeleteWhitelist (spec.md §4.H).
func (h *Handler) Delete(requestPath string) Result {
	if !strings.HasPrefix(requestPath, h.DeleteWhitelist) {
		return Result{Outcome: OutcomeForbidden}
	}
	rel := strings.TrimPrefix(requestPath, h.DeleteWhitelist)
	name := sanitizeFilename(filepath.Base(rel))
	if name == "" {
		return Result{Outcome: OutcomeForbidden}
	}
	full := filepath.Join(h.Dir, name)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return Result{Outcome: OutcomeNotFound}
		}
		if os.IsPermission(err) {
			return Result{Outcome: OutcomeForbidden}
		}
		return Result{Outcome: OutcomeForbidden, Err: errors.Wrap(err, "upload: remove")}
	}
	return Result{Outcome: OutcomeDeleted, Path: full}
}

// sanitizeFilename strips directory components and any leading dots so a
// client-chosen filename can never escape Dir or target a hidden file
// (spec.md §4.H: "the stored filename is never trusted verbatim").
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.TrimLeft(name, ".")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "upload.bin"
	}
	return name
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(b []byte) *byteReader { return &byteReader{data: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
