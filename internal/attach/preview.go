package attach

import (
	"sync"

	"github.com/google/uuid"
)

// PreviewRegistry tracks local preview handles for image attachments, the way
// a browser tracks object URLs. Each handle is owned by the attachment that
// acquired it and must be released when that attachment leaves the compose
// buffer; Drain releases everything when the buffer is torn down.
type PreviewRegistry struct {
	mu      sync.Mutex
	handles map[string]string // token -> file name
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{handles: make(map[string]string)}
}

// Acquire issues a preview handle for the named file.
func (r *PreviewRegistry) Acquire(fileName string) string {
	token := uuid.New().String()
	r.mu.Lock()
	r.handles[token] = fileName
	r.mu.Unlock()
	return token
}

// Release revokes a handle. Releasing an unknown or already-released token is
// a no-op, so callers do not need to track whether teardown ran first.
func (r *PreviewRegistry) Release(token string) {
	r.mu.Lock()
	delete(r.handles, token)
	r.mu.Unlock()
}

// Drain revokes every outstanding handle. Idempotent.
func (r *PreviewRegistry) Drain() {
	r.mu.Lock()
	r.handles = make(map[string]string)
	r.mu.Unlock()
}

// Len reports the number of live handles.
func (r *PreviewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
