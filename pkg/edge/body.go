package edge

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// CloneableBody makes a request body readable more than once. The source
// is drained on the first Clone and then released.
type CloneableBody struct {
	mu   sync.Mutex
	src  io.ReadCloser
	buf  []byte
	err  error
	read bool
}

// NewCloneableBody wraps src. A nil src is an empty body.
func NewCloneableBody(src io.ReadCloser) *CloneableBody {
	return &CloneableBody{src: src}
}

func (b *CloneableBody) load() {
	if b.read {
		return
	}
	b.read = true
	if b.src == nil || b.src == http.NoBody {
		return
	}
	b.buf, b.err = io.ReadAll(b.src)
	b.src.Close()
}

// Clone returns an independent reader over the whole body.
func (b *CloneableBody) Clone() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.load()
	if b.err != nil {
		return nil, b.err
	}
	return io.NopCloser(bytes.NewReader(b.buf)), nil
}

// Len returns the body size, reading it if needed.
func (b *CloneableBody) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	return len(b.buf)
}
