// Package search provides full-text search and indexing of product documents.
// Concrete engines live in search/internal, shared types in search/types.
package search

import (
	"context"

	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store/search/internal"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// Engine is the search index facade. Documents are raw json sources keyed by id.
type Engine interface {
	Init(ctx context.Context) error                                                    // prepare index
	Get(ctx context.Context, id string) ([]byte, error)                                // source by id, types.ErrNotFound if missing
	Search(ctx context.Context, req *types.Request) (*types.ResultPage, error)         // multi-match over name and description
	Index(ctx context.Context, items []types.BulkItem) ([]types.BulkItemResult, error) // one bulk write
	Close() error                                                                      // close engine
}

// Engine types
const (
	ElasticEngine = "elastic"
	BleveEngine   = "bleve"
	NoopEngine    = "noop"
)

// NewEngine creates engine of params.Type
func NewEngine(params types.SearcherParams) (Engine, error) {
	switch params.Type {
	case ElasticEngine:
		eng, err := internal.NewElasticEngine(params)
		if err != nil {
			return nil, err
		}
		return eng, nil
	case BleveEngine:
		eng, err := internal.NewBleveEngine(params)
		if err != nil {
			return nil, err
		}
		return eng, nil
	case NoopEngine, "":
		return internal.NewNoopEngine(), nil
	}
	return nil, errors.Errorf("unknown search engine %q, available engines %v",
		params.Type, []string{ElasticEngine, BleveEngine, NoopEngine})
}
