// Package static implements the Static File Handler described in
// spec.md §4.G: resolve a request path against a document root, refusing
// any resolution that escapes it, serve the matched file or a directory's
// index/listing, and report the failure modes the route table can't catch
// itself (403 on traversal or permission, 404 on missing files).
package static

import (
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Result is the outcome of Resolve, consumed by the connection state
// machine to build a response (spec.md §4.E).
type Result struct {
	Kind        ResultKind
	FilePath    string    // absolute path on disk, set for KindFile
	File        *os.File  // open handle, set for KindFile; caller must Close
	Size        int64     // set for KindFile
	ModTime     time.Time // set for KindFile
	ContentType string    // set for KindFile
	Entries     []Entry   // set for KindListing
}

type ResultKind int

const (
	KindFile ResultKind = iota
	KindListing
	KindForbidden
	KindNotFound
)

// Entry is one line of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Handler serves files rooted at DocumentRoot.
type Handler struct {
	DocumentRoot     string
	Index            string // e.g. "index.html"; empty disables index lookup
	DirectoryListing bool
}

// Resolve maps an already-routed request path (the part past the route's
// own prefix has already been stripped by the caller per spec.md §4.F) to a
// file, a directory listing, or a failure.
func (h *Handler) Resolve(requestPath string) Result {
	clean := path.Clean("/" + requestPath)
	full := filepath.Join(h.DocumentRoot, filepath.FromSlash(clean))

	// filepath.Join + Clean already collapses ".." segments against the
	// joined result, but a belt-and-braces containment check guards
	// against symlink/absolute-path tricks on odd filesystems.
	root, err := filepath.Abs(h.DocumentRoot)
	if err != nil {
		return Result{Kind: KindForbidden}
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return Result{Kind: KindForbidden}
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return Result{Kind: KindForbidden}
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsPermission(err) {
			return Result{Kind: KindForbidden}
		}
		return Result{Kind: KindNotFound}
	}

	if info.IsDir() {
		if h.Index != "" {
			idxPath := filepath.Join(abs, h.Index)
			if idxInfo, err := os.Stat(idxPath); err == nil && !idxInfo.IsDir() {
				return h.openFile(idxPath, idxInfo)
			}
		}
		if h.DirectoryListing {
			return h.listDir(abs)
		}
		return Result{Kind: KindForbidden}
	}

	return h.openFile(abs, info)
}

func (h *Handler) openFile(abs string, info os.FileInfo) Result {
	f, err := os.Open(abs)
	if err != nil {
		if os.IsPermission(err) {
			return Result{Kind: KindForbidden}
		}
		return Result{Kind: KindNotFound}
	}
	return Result{
		Kind:        KindFile,
		FilePath:    abs,
		File:        f,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: ContentType(abs),
	}
}

func (h *Handler) listDir(abs string) Result {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Result{Kind: KindForbidden}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Result{Kind: KindListing, Entries: out}
}

// ContentType guesses a response Content-Type from a file's extension,
// falling back to the generic octet-stream type when the extension is
// unknown (spec.md §4.E leaves body-type inference to the static handler).
func ContentType(name string) string {
	ext := filepath.Ext(name)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// RenderListing writes a minimal HTML directory listing, in the style of
// net/http's directory browser but trimmed to what spec.md §4.G asks for.
func RenderListing(w io.Writer, requestPath string, entries []Entry) error {
	if !strings.HasSuffix(requestPath, "/") {
		requestPath += "/"
	}
	var b strings.Builder
	b.WriteString("<html><head><title>Index of ")
	b.WriteString(requestPath)
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(requestPath)
	b.WriteString("</h1><ul>")
	b.WriteString(`<li><a href="../">../</a></li>`)
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		b.WriteString(`<li><a href="`)
		b.WriteString(name)
		b.WriteString(`">`)
		b.WriteString(name)
		b.WriteString("</a></li>")
	}
	b.WriteString("</ul></body></html>")
	_, err := io.WriteString(w, b.String())
	return err
}
