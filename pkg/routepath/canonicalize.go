// Package routepath holds the small path transformations shared by the
// resolver and the routing pipeline.
package routepath

import (
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Path errors.
var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrBackslashInPath      = errors.New("path contains backslash")
	ErrNullByteInPath       = errors.New("path contains null byte")
	ErrInvalidPercentEscape = errors.New("invalid percent escape sequence")
	ErrPathEscapesRoot      = errors.New("path escapes root via ..")
)

// HasPrefix reports whether p equals prefix or continues it with "/".
func HasPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// StripBasePath removes basePath from p. The second result is false when
// basePath is set and p is outside it. An empty basePath always succeeds.
func StripBasePath(p, basePath string) (string, bool) {
	if basePath == "" {
		return p, true
	}
	if !HasPrefix(p, basePath) {
		return p, false
	}
	rest := p[len(basePath):]
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest, true
}

// AddPrefix prepends prefix to p. Root collapses onto the prefix itself.
func AddPrefix(p, prefix string) string {
	if prefix == "" {
		return p
	}
	if p == "/" || p == "" {
		return prefix
	}
	return prefix + p
}

// TrimTrailingSlash removes one trailing slash, keeping "/" for root.
func TrimTrailingSlash(p string) string {
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// NormalizeRepeatedSlashes collapses "//" runs and turns backslashes into
// slashes in the path part of rawURL. The query is kept as is. The second
// result reports whether anything changed.
func NormalizeRepeatedSlashes(rawURL string) (string, bool) {
	p, query, hasQuery := strings.Cut(rawURL, "?")

	clean := strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(clean, "//") {
		clean = strings.ReplaceAll(clean, "//", "/")
	}
	if clean == p {
		return rawURL, false
	}
	if hasQuery {
		return clean + "?" + query, true
	}
	return clean, true
}

// Decode percent-decodes a path. It fails on malformed escapes.
func Decode(p string) (string, error) {
	if !strings.Contains(p, "%") {
		return p, nil
	}
	if err := validatePercentEscapes(p); err != nil {
		return "", err
	}
	return url.PathUnescape(p)
}

// validatePercentEscapes checks that all percent-escapes are valid.
func validatePercentEscapes(p string) error {
	for i := 0; i < len(p); i++ {
		if p[i] != '%' {
			continue
		}
		if i+2 >= len(p) || !isHexDigit(p[i+1]) || !isHexDigit(p[i+2]) {
			return ErrInvalidPercentEscape
		}
		i += 2
	}
	return nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// SafeRelPath turns a request path into a path relative to a serving root.
// Traversal and absolute-path tricks are rejected.
func SafeRelPath(p string) (string, error) {
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		return "", ErrInvalidPath
	}

	// Reject NUL early (can appear via %00).
	if strings.IndexByte(rel, 0) != -1 {
		return "", ErrNullByteInPath
	}

	// Reject platform-dependent separators.
	if strings.Contains(rel, "\\") {
		return "", ErrBackslashInPath
	}

	// A leading "/" after trimming means "//etc/passwd" style input.
	if strings.HasPrefix(rel, "/") {
		return "", ErrInvalidPath
	}

	// Reject dot-segments before cleaning so traversal is not cleaned away.
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", ErrPathEscapesRoot
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrPathEscapesRoot
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", ErrInvalidPath
	}

	return clean, nil
}
