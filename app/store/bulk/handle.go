package bulk

import (
	"context"
	"fmt"
	"sync"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// Handle is a single-resolution result of one submitted write.
// It starts pending and is resolved exactly once, with result or with error.
type Handle struct {
	key  string
	done chan struct{}

	lock     sync.Mutex
	resolved bool
	result   types.BulkItemResult
	err      error
}

func newHandle(key string) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

// Failed returns handle already resolved with err
func Failed(key string, err error) *Handle {
	return newHandle(key).fail(err)
}

// Key of the write this handle belongs to
func (h *Handle) Key() string { return h.key }

// Done returns channel closed on resolution
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until handle resolved or ctx is done.
// Context error is returned as is and the handle stays pending.
func (h *Handle) Wait(ctx context.Context) (types.BulkItemResult, error) {
	select {
	case <-h.done:
		res, _, err := h.Result()
		return res, err
	case <-ctx.Done():
		return types.BulkItemResult{Key: h.key}, ctx.Err()
	}
}

// Result returns outcome without blocking, resolved is false while pending
func (h *Handle) Result() (res types.BulkItemResult, resolved bool, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.resolved {
		return types.BulkItemResult{Key: h.key}, false, nil
	}
	return h.result, true, h.err
}

// resolve sets the outcome. Second call is a programming error and panics,
// the first outcome is never overwritten.
func (h *Handle) resolve(res types.BulkItemResult, err error) {
	h.lock.Lock()
	if h.resolved {
		h.lock.Unlock()
		panic(fmt.Sprintf("bulk handle for %q resolved twice", h.key))
	}
	if res.Key == "" {
		res.Key = h.key
	}
	h.resolved, h.result, h.err = true, res, err
	h.lock.Unlock()
	close(h.done)
}

func (h *Handle) fail(err error) *Handle {
	h.resolve(types.BulkItemResult{Key: h.key}, err)
	return h
}
