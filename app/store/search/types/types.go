// Package types is aimed to provide common types
// for `search/internal`, `bulk` and main `search` module
// to avoid circular module dependencies
package types

import (
	"errors"
	"fmt"
)

// ErrSearchNotEnabled returned to search request in case search not enabled
var ErrSearchNotEnabled = errors.New("search not enabled")

// ErrNotFound returned when document with requested id is not in the index
var ErrNotFound = errors.New("document not found")

// Request is the input for Search
type Request struct {
	Query string
	From  int
	Limit int
}

// ResultDoc search result document, Source is raw json of the document
type ResultDoc struct {
	ID     string `json:"id"`
	Source []byte `json:"source"`
}

// ResultPage returned from search
type ResultPage struct {
	Total     uint64      `json:"total"`
	Documents []ResultDoc `json:"documents"`
}

// SearcherParams parameters to configure engine
type SearcherParams struct {
	Type      string // elastic, bleve or noop
	Index     string // index name, elastic only
	IndexPath string // bleve index location, empty for in-memory index
	Analyzer  string
	Endpoint  string
	Secret    string
}

// BulkItem is a single write operation, identity is the Key
type BulkItem struct {
	Key     string
	Payload []byte
}

// BulkItemResult is the store outcome for one BulkItem.
// Err is nil on success, otherwise *ItemError in most cases
type BulkItemResult struct {
	Key     string `json:"id"`
	Index   string `json:"index,omitempty"`
	Result  string `json:"result,omitempty"` // created, updated, etc
	Version int64  `json:"version,omitempty"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// ItemError describes rejection of a single item inside otherwise successful bulk request
type ItemError struct {
	Key    string
	Status int
	Type   string
	Reason string
	Err    error
}

func (e *ItemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("item %q failed: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("item %q failed with status %d, %s: %s", e.Key, e.Status, e.Type, e.Reason)
}

// Unwrap returns underlying error, if any
func (e *ItemError) Unwrap() error { return e.Err }
