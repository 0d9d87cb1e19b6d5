package terminal

import (
	"io"
	"sync"
)

// Registry tracks open terminals per user. Logout calls CloseAll so stale
// shells never survive their session.
type Registry struct {
	mu    sync.Mutex
	open  map[string]map[io.Closer]struct{}
	count int
}

func NewRegistry() *Registry {
	return &Registry{open: make(map[string]map[io.Closer]struct{})}
}

func (r *Registry) Register(username string, c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.open[username]
	if !ok {
		set = make(map[io.Closer]struct{})
		r.open[username] = set
	}
	set[c] = struct{}{}
	r.count++
}

func (r *Registry) Deregister(username string, c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.open[username]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	r.count--
	if len(set) == 0 {
		delete(r.open, username)
	}
}

// CloseAll closes every terminal of username. The snapshot is taken under the
// lock but Close runs outside it, a closing relay may deregister itself.
func (r *Registry) CloseAll(username string) int {
	r.mu.Lock()
	snapshot := make([]io.Closer, 0, len(r.open[username]))
	for c := range r.open[username] {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		_ = c.Close()
	}
	return len(snapshot)
}

// Count returns the number of open terminals across all users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
