package bulk

import "github.com/zhangyunhao116/skipmap"

// registry keeps at most one pending handle per key
type registry struct {
	pending *skipmap.OrderedMap[string, *Handle]
}

func newRegistry() *registry {
	return &registry{pending: skipmap.New[string, *Handle]()}
}

// register stores handle for the key unless other write for the key is pending.
// Check and insert are a single atomic step.
func (r *registry) register(key string, h *Handle) bool {
	_, loaded := r.pending.LoadOrStore(key, h)
	return !loaded
}

// release removes the key and returns handle it was registered with.
// Releasing absent key is a no-op.
func (r *registry) release(key string) (*Handle, bool) {
	return r.pending.LoadAndDelete(key)
}

func (r *registry) len() int {
	return r.pending.Len()
}
