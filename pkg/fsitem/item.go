// Package fsitem classifies request paths against a route table and, in
// live mode, against the filesystem.
//
// A path resolves to at most one Item. Candidate kinds are tried in a fixed
// order so that framework output never shadows user content and cheap set
// lookups run before on-demand compilation:
//
//	devVirtualFsItem  -> nextStaticFolder -> legacyStaticFolder
//	  -> publicFolder -> appFile -> pageFile
package fsitem

import (
	"context"
	"errors"
)

// Type is the kind of a resolved item.
type Type string

// Item types.
const (
	TypeDevVirtual   Type = "devVirtualFsItem"
	TypeNextStatic   Type = "nextStaticFolder"
	TypeLegacyStatic Type = "legacyStaticFolder"
	TypePublic       Type = "publicFolder"
	TypeAppFile      Type = "appFile"
	TypePageFile     Type = "pageFile"
	TypeNextImage    Type = "nextImage"
)

// IsStatic reports whether items of type t are plain files.
func (t Type) IsStatic() bool {
	switch t {
	case TypeNextStatic, TypeLegacyStatic, TypePublic:
		return true
	}
	return false
}

// Item is a resolved classification. Items are shared through the cache
// and must not be modified.
type Item struct {
	Type Type

	// FSPath is the backing file relative to the project root, when known.
	FSPath string

	// ItemsRoot is the directory FSPath lives in.
	ItemsRoot string

	// Locale is the locale detected while resolving, if any.
	Locale string

	// ItemPath is the path the item matched under, with basePath, locale
	// and kind prefixes removed.
	ItemPath string
}

// ErrEnsureFailed is returned by an EnsureFunc when the page cannot be
// compiled. The resolver treats it as a miss.
var ErrEnsureFailed = errors.New("fsitem: ensure failed")

// EnsureRequest names the page or app route to prepare.
type EnsureRequest struct {
	Type     Type
	ItemPath string
}

// EnsureFunc compiles a page or app route on demand in live mode. It
// returns ErrEnsureFailed, or an error matching fs.ErrNotExist, when the
// route does not exist.
type EnsureFunc func(ctx context.Context, req EnsureRequest) error

// DefaultCacheWeight is the default resolution cache budget.
const DefaultCacheWeight = 1 << 20

// DefaultWeight weighs a cache entry by the bytes of its key and strings.
// A cached miss weighs its key alone.
func DefaultWeight(key string, item *Item) int {
	if item == nil {
		return len(key)
	}
	return len(key) + len(item.FSPath) + len(item.ItemPath) + len(item.Type)
}
