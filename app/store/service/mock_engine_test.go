package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// MockEngine is a search.Engine driven by testify mock
type MockEngine struct {
	mock.Mock
}

// Init provides a mock function with given fields: ctx
func (m *MockEngine) Init(ctx context.Context) error {
	ret := m.Called(ctx)
	return ret.Error(0)
}

// Get provides a mock function with given fields: ctx, id
func (m *MockEngine) Get(ctx context.Context, id string) ([]byte, error) {
	ret := m.Called(ctx, id)
	var r0 []byte
	if rf, ok := ret.Get(0).([]byte); ok {
		r0 = rf
	}
	return r0, ret.Error(1)
}

// Search provides a mock function with given fields: ctx, req
func (m *MockEngine) Search(ctx context.Context, req *types.Request) (*types.ResultPage, error) {
	ret := m.Called(ctx, req)
	var r0 *types.ResultPage
	if rf, ok := ret.Get(0).(*types.ResultPage); ok {
		r0 = rf
	}
	return r0, ret.Error(1)
}

// Index provides a mock function with given fields: ctx, items
func (m *MockEngine) Index(ctx context.Context, items []types.BulkItem) ([]types.BulkItemResult, error) {
	ret := m.Called(ctx, items)
	var r0 []types.BulkItemResult
	if rf, ok := ret.Get(0).([]types.BulkItemResult); ok {
		r0 = rf
	}
	return r0, ret.Error(1)
}

// Close provides a mock function with given fields:
func (m *MockEngine) Close() error {
	ret := m.Called()
	return ret.Error(0)
}
