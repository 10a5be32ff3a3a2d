// Package bulk batches single writes into bulk requests to the search store.
// Each write gets a Handle resolved when the bulk request containing it completes.
// Only one write per key may be in flight at a time.
package bulk

import (
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// Params configures Coordinator, zero values replaced by defaults
type Params struct {
	MaxBatchSize    int           // items per bulk request, default 100
	FlushInterval   time.Duration // max time the first item of a batch waits, default 1s
	MaxInFlight     int           // concurrent bulk requests, default 4
	ShutdownTimeout time.Duration // how long Close waits for in-flight requests, default 30s

	// OnResolved is called for every accepted write once the store outcome is known,
	// after the key is released and before the handle resolves. Optional.
	OnResolved func(key string, err error)
}

// Coordinator accepts single writes, sends them in batches and resolves
// per-write handles from the batch outcome
type Coordinator struct {
	stateLock sync.RWMutex
	closed    bool

	params    Params
	registry  *registry
	acc       *accumulator
	sub       *submitter
	closeOnce sync.Once
	closeErr  error
}

// New makes Coordinator writing to store and starts its background worker
func New(store Store, params Params) *Coordinator {
	if params.MaxBatchSize <= 0 {
		params.MaxBatchSize = 100
	}
	if params.FlushInterval <= 0 {
		params.FlushInterval = time.Second
	}
	if params.MaxInFlight <= 0 {
		params.MaxInFlight = 4
	}
	if params.ShutdownTimeout <= 0 {
		params.ShutdownTimeout = 30 * time.Second
	}

	res := &Coordinator{params: params, registry: newRegistry()}
	corr := &correlator{registry: res.registry, onResolved: params.OnResolved}
	res.sub = newSubmitter(store, params.MaxInFlight, corr.onBatchResult)
	res.acc = newAccumulator(params.MaxBatchSize, params.FlushInterval, res.sub.submit)
	res.acc.start()
	return res
}

// Submit accepts write of payload under key. It never blocks on the store,
// the outcome is observed through returned handle. Rejected writes
// (empty key, duplicate key, closed coordinator) get already resolved handle.
func (c *Coordinator) Submit(key string, payload []byte) *Handle {
	h := newHandle(key)
	if key == "" {
		return h.fail(ErrEmptyKey)
	}

	c.stateLock.RLock()
	defer c.stateLock.RUnlock()

	if c.closed {
		return h.fail(ErrClosed)
	}
	if !c.registry.register(key, h) {
		return h.fail(errors.Wrapf(ErrDuplicateWrite, "key %q", key))
	}
	c.acc.add(types.BulkItem{Key: key, Payload: append([]byte(nil), payload...)})
	return h
}

// Flush sends buffered writes right away, doesn't wait for results
func (c *Coordinator) Flush() {
	c.acc.flush()
}

// Pending returns number of keys with write in flight
func (c *Coordinator) Pending() int {
	return c.registry.len()
}

// Close stops accepting writes, flushes buffered ones and waits for in-flight
// bulk requests up to ShutdownTimeout. On timeout ErrShutdownTimeout returned and
// handles of undrained writes stay unresolved. A goroutine waiting for the hung
// requests is left behind in that case and exits only when the store returns.
// Safe to call multiple times.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		c.closed = true
		c.stateLock.Unlock()

		c.acc.flush()
		c.acc.close()
		if err := c.sub.wait(c.params.ShutdownTimeout); err != nil {
			log.Printf("[WARN] bulk writer closed with %d pending writes, %v", c.registry.len(), err)
			c.closeErr = err
			return
		}
		log.Printf("[INFO] bulk writer closed")
	})
	return c.closeErr
}
