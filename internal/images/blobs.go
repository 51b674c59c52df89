package images

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BlobRegistry serves display URLs from memory. Each URL resolves to a file
// until it is revoked.
type BlobRegistry struct {
	mu     sync.RWMutex
	prefix string
	blobs  map[string]File
}

// NewBlobRegistry returns a registry whose URLs are prefix + handle.
func NewBlobRegistry(prefix string) *BlobRegistry {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobRegistry{prefix: prefix, blobs: make(map[string]File)}
}

func (r *BlobRegistry) CreateURL(_ context.Context, f File) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := uuid.New().String()
	r.blobs[handle] = f
	return r.prefix + handle, nil
}

func (r *BlobRegistry) RevokeURL(_ context.Context, url string) error {
	handle, ok := strings.CutPrefix(url, r.prefix)
	if !ok {
		return fmt.Errorf("url %q was not issued by this registry", url)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, handle)
	return nil
}

// Get resolves a handle to its file.
func (r *BlobRegistry) Get(handle string) (File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.blobs[handle]
	return f, ok
}

// Outstanding is the number of URLs not yet revoked.
func (r *BlobRegistry) Outstanding() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
