package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// Store accepts whole batch of writes as one call.
// It returns either results for items, reconciled by BulkItemResult.Key,
// or an error if the batch failed as a whole.
type Store interface {
	Index(ctx context.Context, items []types.BulkItem) ([]types.BulkItemResult, error)
}

type resultFn func(batch []types.BulkItem, results []types.BulkItemResult, err error)

// submitter sends batches to the store in background, up to maxInFlight at once
type submitter struct {
	store    Store
	group    *syncs.SizedGroup
	inflight sync.WaitGroup
	onResult resultFn
	seq      uint64
}

func newSubmitter(store Store, maxInFlight int, onResult resultFn) *submitter {
	return &submitter{
		store:    store,
		group:    syncs.NewSizedGroup(maxInFlight),
		onResult: onResult,
	}
}

// submit schedules batch and returns immediately
func (s *submitter) submit(batch []types.BulkItem) {
	id := atomic.AddUint64(&s.seq, 1)
	s.inflight.Add(1)
	s.group.Go(func(ctx context.Context) {
		defer s.inflight.Done()
		st := time.Now()
		results, err := s.store.Index(ctx, batch)
		if err != nil {
			log.Printf("[WARN] bulk #%d with %d items failed, %v", id, len(batch), err)
		} else {
			log.Printf("[DEBUG] bulk #%d with %d items done in %v", id, len(batch), time.Since(st))
		}
		s.onResult(batch, results, err)
	})
}

// wait blocks until all submitted batches completed or timeout passed.
// On timeout the waiting goroutine stays until the hung batches return.
func (s *submitter) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}
