package bulk

import (
	log "github.com/go-pkgz/lgr"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// correlator matches results of a completed batch to pending handles by key
type correlator struct {
	registry   *registry
	onResolved func(key string, err error) // optional, called after release and before resolution
}

// onBatchResult resolves every item of the batch exactly once.
// Items are matched to results by key, order of results doesn't matter.
func (c *correlator) onBatchResult(batch []types.BulkItem, results []types.BulkItemResult, err error) {
	if err != nil {
		batchErr := &BatchError{Size: len(batch), Err: err}
		for _, item := range batch {
			c.resolve(item.Key, types.BulkItemResult{Key: item.Key}, batchErr)
		}
		return
	}

	byKey := make(map[string]types.BulkItemResult, len(results))
	for _, res := range results {
		byKey[res.Key] = res
	}

	for _, item := range batch {
		res, ok := byKey[item.Key]
		if !ok {
			c.resolve(item.Key, types.BulkItemResult{Key: item.Key}, &types.ItemError{Key: item.Key, Err: ErrMissingResult})
			continue
		}
		delete(byKey, item.Key)
		c.resolve(item.Key, res, res.Err)
	}

	for key := range byKey {
		log.Printf("[WARN] bulk result for unexpected key %q ignored", key)
	}
}

// resolve releases the key first, so the entry never outlives the resolution.
// A panic in the callback or in resolution is logged and contained to this item,
// the rest of the batch is still released and resolved.
func (c *correlator) resolve(key string, res types.BulkItemResult, err error) {
	h, ok := c.registry.release(key)
	if !ok {
		log.Printf("[WARN] no pending write for %q, result dropped", key)
		return
	}
	if c.onResolved != nil {
		contain(key, func() { c.onResolved(key, err) })
	}
	contain(key, func() { h.resolve(res, err) })
}

func contain(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] resolution of write %q failed, %v", key, r)
		}
	}()
	fn()
}
