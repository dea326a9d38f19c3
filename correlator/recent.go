package correlator

import "sync"

// settledMemory is how many finished correlation ids a correlator remembers.
const settledMemory = 1024

// recent is a fixed-size set of the most recently added ids. Once full, each add evicts
// the oldest id.
type recent struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecent(size int) *recent {
	return &recent{
		ids:  make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

func (r *recent) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return
	}

	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}

	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}

func (r *recent) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ids[id]

	return ok
}
