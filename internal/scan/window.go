package scan

import (
	"sync"
	"time"
)

// Window is a bounded-recency cache suppressing redundant reclassification
// of a key seen within the last ttl. Losing it only costs repeated work;
// correctness comes from idempotent classification.
type Window struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func NewWindow(ttl time.Duration) *Window {
	return &Window{ttl: ttl, items: make(map[string]time.Time)}
}

// ShouldProcess reports whether the key is due for processing and, if so,
// records now as its last-seen time.
func (w *Window) ShouldProcess(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ts, ok := w.items[key]; ok {
		if now.Sub(ts) < w.ttl {
			return false
		}
	}
	w.items[key] = now
	if len(w.items) > 10000 {
		w.compact(now)
	}
	return true
}

func (w *Window) compact(now time.Time) {
	for k, ts := range w.items {
		if now.Sub(ts) >= w.ttl {
			delete(w.items, k)
		}
	}
}
