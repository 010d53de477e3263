package chat

// dedupCache is a bounded FIFO set of message keys (server IDs, or client
// temp IDs before acknowledgment). Old keys are evicted once the cache is
// full, matching the retained message window. Not safe for concurrent use;
// the coordinator guards it with its own mutex.
type dedupCache struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &dedupCache{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether the key was marked and not yet evicted.
func (d *dedupCache) Seen(key string) bool {
	if key == "" {
		return false
	}
	_, ok := d.seen[key]
	return ok
}

// Mark records a key, evicting the oldest entries beyond capacity.
func (d *dedupCache) Mark(key string) {
	if key == "" || d.Seen(key) {
		return
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	for len(d.order) > d.capacity {
		evicted := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, evicted)
	}
}

// Len reports the number of retained keys.
func (d *dedupCache) Len() int {
	return len(d.seen)
}
