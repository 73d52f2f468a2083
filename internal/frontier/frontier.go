// Package frontier holds the breadth-first queue of URLs still to explore,
// together with the visited set that gates insertion.
package frontier

import (
	"sync"

	"relentless-tracks/internal/models"
)

// Frontier is a FIFO of URLs tagged with depth. Push is the only place the
// depth bound is enforced. A URL is queued at most once for the lifetime of
// a crawl: it is rejected while queued and forever after it is popped.
type Frontier struct {
	mu       sync.Mutex
	maxDepth int
	queue    []models.FrontierEntry
	queued   map[string]struct{}
	visited  map[string]struct{}
}

// New creates an empty frontier bounded at maxDepth.
func New(maxDepth int) *Frontier {
	return &Frontier{
		maxDepth: maxDepth,
		queued:   make(map[string]struct{}),
		visited:  make(map[string]struct{}),
	}
}

// MaxDepth returns the configured depth bound.
func (f *Frontier) MaxDepth() int {
	return f.maxDepth
}

// Push appends url at depth and reports whether it was added. It returns
// false when depth is out of bounds or the URL is already visited or queued.
func (f *Frontier) Push(rawURL string, depth int) bool {
	if depth < 0 || depth > f.maxDepth {
		return false
	}
	key := keyFor(rawURL)
	if key == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visited[key]; ok {
		return false
	}
	if _, ok := f.queued[key]; ok {
		return false
	}
	f.queued[key] = struct{}{}
	f.queue = append(f.queue, models.FrontierEntry{URL: key, Depth: depth})
	return true
}

// Pop removes the oldest entry and marks its URL visited before returning it,
// so a racing discovery of the same URL cannot re-queue it while it is being
// explored.
func (f *Frontier) Pop() (models.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return models.FrontierEntry{}, false
	}
	entry := f.queue[0]
	f.queue[0] = models.FrontierEntry{}
	f.queue = f.queue[1:]
	delete(f.queued, entry.URL)
	f.visited[entry.URL] = struct{}{}
	return entry, true
}

// Requeue undoes a Pop whose exploration was interrupted: the URL leaves the
// visited set and goes back to the head of the queue.
func (f *Frontier) Requeue(entry models.FrontierEntry) {
	key := keyFor(entry.URL)
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queued[key]; ok {
		return
	}
	delete(f.visited, key)
	f.queued[key] = struct{}{}
	f.queue = append([]models.FrontierEntry{{URL: key, Depth: entry.Depth}}, f.queue...)
}

// IsEmpty reports whether nothing is waiting to be explored.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// IsVisited reports whether url has already been popped.
func (f *Frontier) IsVisited(rawURL string) bool {
	key := keyFor(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[key]
	return ok
}

// Snapshot copies the visited set and the queue in FIFO order.
func (f *Frontier) Snapshot() ([]string, []models.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	visited := make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}
	entries := make([]models.FrontierEntry, len(f.queue))
	copy(entries, f.queue)
	return visited, entries
}

// Restore replaces the frontier contents with persisted state. Entries that
// were already visited, are duplicated, or exceed the current depth bound are
// dropped.
func (f *Frontier) Restore(visited []string, entries []models.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = make([]models.FrontierEntry, 0, len(entries))
	f.queued = make(map[string]struct{}, len(entries))
	f.visited = make(map[string]struct{}, len(visited))
	for _, u := range visited {
		if key := keyFor(u); key != "" {
			f.visited[key] = struct{}{}
		}
	}
	for _, e := range entries {
		key := keyFor(e.URL)
		if key == "" || e.Depth < 0 || e.Depth > f.maxDepth {
			continue
		}
		if _, ok := f.visited[key]; ok {
			continue
		}
		if _, ok := f.queued[key]; ok {
			continue
		}
		f.queued[key] = struct{}{}
		f.queue = append(f.queue, models.FrontierEntry{URL: key, Depth: e.Depth})
	}
}

// Reset empties the frontier and the visited set.
func (f *Frontier) Reset() {
	f.Restore(nil, nil)
}

// keyFor returns the normalized form of rawURL, or "" when it is not an
// absolute URL.
func keyFor(rawURL string) string {
	if normalized, err := NormalizeURL(rawURL); err == nil {
		return normalized
	}
	return ""
}
