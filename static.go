package next

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/oreillyross/next.js/pkg/fsitem"
)

// =============================================================================
// Static File Serving
// =============================================================================

// serveStatic streams the file behind a static item. The router has
// already classified the path, so no existence probe happens here.
func (a *App) serveStatic(w http.ResponseWriter, r *http.Request, item *fsitem.Item) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	f, err := a.source.Open(r.Context(), item.FSPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between classification and open.
			a.notFound(w, r)
			return
		}
		a.fail(w, r, err)
		return
	}
	defer f.Close()

	a.applyCacheHeaders(w, item)

	h := w.Header()
	for key, value := range a.config.Static.Headers {
		if h.Get(key) == "" {
			h.Set(key, value)
		}
	}

	name := path.Base(item.FSPath)
	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, modTime(f), rs)
		return
	}

	if h.Get("Content-Type") == "" {
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	io.Copy(w, f)
}

func modTime(f io.Reader) time.Time {
	if s, ok := f.(interface{ Stat() (fs.FileInfo, error) }); ok {
		if info, err := s.Stat(); err == nil {
			return info.ModTime()
		}
	}
	return time.Time{}
}

// applyCacheHeaders applies cache control headers based on the configuration.
// A Cache-Control set by a header rule is kept.
func (a *App) applyCacheHeaders(w http.ResponseWriter, item *fsitem.Item) {
	if w.Header().Get("Cache-Control") != "" {
		return
	}
	switch a.config.Static.CacheControl {
	case CacheControlNone:
		w.Header().Set("Cache-Control", "no-store, must-revalidate")

	case CacheControlProduction:
		if item.Type == fsitem.TypeNextStatic || isFingerprinted(item.FSPath) {
			// Build output is content addressed.
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=0")
		}
	}
}

// isFingerprinted checks if a file path appears to be fingerprinted.
// Fingerprinted files have a hash in their name, e.g., "app.a1b2c3d4.css"
func isFingerprinted(filePath string) bool {
	base := path.Base(filePath)

	// Split by dots: ["app", "a1b2c3d4", "css"]
	parts := strings.Split(base, ".")
	if len(parts) < 3 {
		return false
	}

	// Hashes are typically 8+ hex characters
	hash := parts[len(parts)-2]
	if len(hash) < 8 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
