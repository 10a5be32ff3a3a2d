package internal

import (
	"context"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

type noopEngine struct{}

// NewNoopEngine creates dummy search engine
func NewNoopEngine() *noopEngine {
	return &noopEngine{}
}

// Init does nothing on noop engine
func (*noopEngine) Init(_ context.Context) error {
	return nil
}

// Get always returns ErrSearchNotEnabled
func (*noopEngine) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, types.ErrSearchNotEnabled
}

// Search always returns ErrSearchNotEnabled
func (*noopEngine) Search(_ context.Context, _ *types.Request) (*types.ResultPage, error) {
	return nil, types.ErrSearchNotEnabled
}

// Index always returns ErrSearchNotEnabled
func (*noopEngine) Index(_ context.Context, _ []types.BulkItem) ([]types.BulkItemResult, error) {
	return nil, types.ErrSearchNotEnabled
}

// Close does nothing on noop engine
func (*noopEngine) Close() error {
	return nil
}
