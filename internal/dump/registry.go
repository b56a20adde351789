package dump

import (
	"errors"
	"os"
	"sync"
)

// registrySlots is the fixed number of concurrent in-progress writes the
// registry tracks. Three workers each hold at most a couple of open dumps,
// so 16 is generous.
const registrySlots = 16

// ErrRegistryFull is returned when every slot is taken; it indicates a
// writer leak and is treated as fatal by callers.
var ErrRegistryFull = errors.New("dump: registry full")

type registryEntry struct {
	f    *os.File
	path string
}

// Registry tracks every in-progress dump write so a fatal exit can destroy
// partial files. Writers register on open and deregister on close; Burn
// closes and unlinks whatever is still registered.
type Registry struct {
	mu    sync.Mutex
	slots [registrySlots]registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(f *os.File, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].f == nil {
			r.slots[i] = registryEntry{f: f, path: path}
			return nil
		}
	}
	return ErrRegistryFull
}

func (r *Registry) remove(f *os.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].f == f {
			r.slots[i] = registryEntry{}
			return
		}
	}
}

func (r *Registry) pathOf(f *os.File) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].f == f {
			return r.slots[i].path
		}
	}
	return ""
}

// Len returns the number of in-progress writes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.slots {
		if r.slots[i].f != nil {
			n++
		}
	}
	return n
}

// Contains reports whether path is registered as an in-progress write.
func (r *Registry) Contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].f != nil && r.slots[i].path == path {
			return true
		}
	}
	return false
}

// Burn closes and unlinks every in-progress write. It is called on every
// fatal exit path so that only finalized dumps survive the process.
func (r *Registry) Burn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		e := r.slots[i]
		if e.f == nil {
			continue
		}
		e.f.Close()
		os.Remove(e.path)
		r.slots[i] = registryEntry{}
	}
}
