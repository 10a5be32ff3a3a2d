package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/mapping"
	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// bleveEngine keeps products in embedded bleve index.
// Raw source is stored as internal value next to the indexed document.
type bleveEngine struct {
	index bleve.Index
}

// NewBleveEngine opens or creates bleve index at params.IndexPath,
// in-memory index made for empty path
func NewBleveEngine(params types.SearcherParams) (*bleveEngine, error) {
	analyzer := params.Analyzer
	if analyzer == "" {
		analyzer = "standard"
	}
	if _, ok := analyzerMapping[analyzer]; !ok {
		analyzers := make([]string, 0, len(analyzerMapping))
		for k := range analyzerMapping {
			analyzers = append(analyzers, k)
		}
		return nil, errors.Errorf("Unknown analyzer: %q. Available analyzers for bleve: %v", analyzer, analyzers)
	}
	indexMapping := createIndexMapping(analyzerMapping[analyzer])

	if params.IndexPath == "" {
		log.Printf("[INFO] creating in-memory search index")
		index, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create in-memory index")
		}
		return &bleveEngine{index: index}, nil
	}

	var index bleve.Index
	st, errOpen := os.Stat(params.IndexPath)
	switch {
	case os.IsNotExist(errOpen):
		log.Printf("[INFO] creating new search index %s", params.IndexPath)
		idx, err := bleve.New(params.IndexPath, indexMapping)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create index")
		}
		index = idx
	case errOpen == nil:
		if !st.IsDir() {
			return nil, errors.Errorf("index path should be a directory")
		}
		log.Printf("[INFO] opening existing search index %s", params.IndexPath)
		idx, err := bleve.Open(params.IndexPath)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open index")
		}
		index = idx
	default:
		return nil, errors.Wrap(errOpen, "cannot open index")
	}
	return &bleveEngine{index: index}, nil
}

func createIndexMapping(textAnalyzer string) mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = textAnalyzer
	textField.Store = false

	numField := bleve.NewNumericFieldMapping()
	numField.Store = false

	productMapping := bleve.NewDocumentMapping()
	productMapping.AddFieldMappingsAt(nameFieldName, textField)
	productMapping.AddFieldMappingsAt(descriptionFieldName, textField)
	productMapping.AddFieldMappingsAt("price", numField)
	productMapping.AddFieldMappingsAt("stock_available", numField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = productMapping
	return indexMapping
}

// Init does nothing, index is ready once opened
func (b *bleveEngine) Init(_ context.Context) error {
	return nil
}

// Get returns stored source of the document
func (b *bleveEngine) Get(_ context.Context, id string) ([]byte, error) {
	source, err := b.index.GetInternal([]byte(id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get document %q", id)
	}
	if source == nil {
		return nil, types.ErrNotFound
	}
	return source, nil
}

// Search performs match query over name and description
func (b *bleveEngine) Search(_ context.Context, req *types.Request) (*types.ResultPage, error) {
	nameQuery := bleve.NewMatchQuery(req.Query)
	nameQuery.SetField(nameFieldName)
	descQuery := bleve.NewMatchQuery(req.Query)
	descQuery.SetField(descriptionFieldName)

	bReq := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(nameQuery, descQuery), req.Limit, req.From, false)
	serp, err := b.index.Search(bReq)
	if err != nil {
		return nil, errors.Wrap(err, "bleve search error")
	}
	log.Printf("[DEBUG] found %d documents for query %q in %s", serp.Total, req.Query, serp.Took.String())

	result := &types.ResultPage{Total: serp.Total, Documents: make([]types.ResultDoc, 0, len(serp.Hits))}
	for _, hit := range serp.Hits {
		source, err := b.index.GetInternal([]byte(hit.ID))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load source of %q", hit.ID)
		}
		result.Documents = append(result.Documents, types.ResultDoc{ID: hit.ID, Source: source})
	}
	return result, nil
}

// Index writes all items as one bleve batch. Bleve reports no per-item status,
// so the whole batch either succeeds or fails.
func (b *bleveEngine) Index(_ context.Context, items []types.BulkItem) ([]types.BulkItemResult, error) {
	batch := b.index.NewBatch()
	results := make([]types.BulkItemResult, 0, len(items))
	accepted := make([]string, 0, len(items))
	for _, item := range items {
		if item.Key == "" {
			results = append(results, rejected(item.Key, errors.New("empty document id")))
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(item.Payload, &doc); err != nil {
			results = append(results, rejected(item.Key, errors.Wrap(err, "invalid json")))
			continue
		}
		if err := batch.Index(item.Key, doc); err != nil {
			results = append(results, rejected(item.Key, err))
			continue
		}
		batch.SetInternal([]byte(item.Key), item.Payload)
		accepted = append(accepted, item.Key)
	}

	if len(accepted) > 0 {
		if err := b.index.Batch(batch); err != nil {
			return nil, errors.Wrap(err, "bleve batch failed")
		}
	}
	for _, key := range accepted {
		results = append(results, types.BulkItemResult{Key: key, Result: "indexed", Status: http.StatusOK})
	}
	return results, nil
}

func rejected(key string, err error) types.BulkItemResult {
	return types.BulkItemResult{Key: key, Status: http.StatusBadRequest,
		Err: &types.ItemError{Key: key, Status: http.StatusBadRequest, Err: err}}
}

// Close index
func (b *bleveEngine) Close() error {
	return b.index.Close()
}
