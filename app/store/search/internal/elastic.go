package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// elastic keeps products in elasticsearch index
type elastic struct {
	client   *elasticsearch.Client
	index    string
	analyzer string
	repeater *repeater.Repeater
}

type elasticQuery struct {
	Query struct {
		MultiMatch struct {
			Query  string   `json:"query"`
			Fields []string `json:"fields"`
		} `json:"multi_match"`
	} `json:"query"`
	Size int `json:"size"`
	From int `json:"from"`
}

type mappingProperty struct {
	Type     string `json:"type"`
	Analyzer string `json:"analyzer,omitempty"`
}

type elasticCreateIndexSettings struct {
	Mappings struct {
		Properties map[string]mappingProperty `json:"properties"`
	} `json:"mappings"`
}

type elasticResponse struct {
	Hits struct {
		Total struct {
			Value int
		}
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		}
	}
}

type elasticGetResponse struct {
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

type bulkMeta struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id,omitempty"`
	} `json:"index"`
}

func parseSecret(secret string, cfg *elasticsearch.Config) error {
	switch {
	case strings.HasPrefix(secret, "basic:"):
		userpass := strings.Split(strings.TrimPrefix(secret, "basic:"), ":")
		if len(userpass) != 2 {
			return errors.Errorf("secret for basic auth should have format 'basic:user:pass'")
		}
		cfg.Username, cfg.Password = userpass[0], userpass[1]
		return nil
	case strings.HasPrefix(secret, "token:"):
		cfg.APIKey = strings.TrimPrefix(secret, "token:")
		return nil
	}
	allowed := []string{"basic:", "token:"}
	return errors.Errorf("secret should starts with one of prefixes: %v", allowed)
}

// NewElasticEngine creates search engine based on ElasticSearch
func NewElasticEngine(params types.SearcherParams) (*elastic, error) {
	if params.Endpoint == "" {
		return nil, errors.Errorf("elasticsearch endpoint is not set")
	}

	cfg := elasticsearch.Config{
		Addresses: []string{params.Endpoint},
	}
	if params.Secret != "" {
		if err := parseSecret(params.Secret, &cfg); err != nil {
			return nil, err
		}
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create elastic client")
	}
	return newElasticWithClient(params, client)
}

func newElasticWithClient(params types.SearcherParams, client *elasticsearch.Client) (*elastic, error) {
	if params.Index == "" {
		return nil, errors.Errorf("elasticsearch index is not set")
	}
	if _, ok := analyzerMapping[params.Analyzer]; !ok && params.Analyzer != "" {
		return nil, errors.Errorf("unknown analyzer %q", params.Analyzer)
	}
	return &elastic{
		client:   client,
		index:    params.Index,
		analyzer: params.Analyzer,
		repeater: repeater.NewDefault(5, time.Second),
	}, nil
}

func checkElasticResponseErr(resp *esapi.Response) error {
	if resp.IsError() {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "error reading the response body")
		}
		return errors.Errorf("elastic respond an error %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func closeBody(resp *esapi.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Printf("[WARN] error to close response body %v", err)
	}
}

func (e *elastic) buildCreateIndexSettings() *elasticCreateIndexSettings {
	settings := &elasticCreateIndexSettings{}
	settings.Mappings.Properties = map[string]mappingProperty{
		nameFieldName:        {Type: "text", Analyzer: e.analyzer},
		descriptionFieldName: {Type: "text", Analyzer: e.analyzer},
		"price":              {Type: "double"},
		"stock_available":    {Type: "integer"},
	}
	return settings
}

// Init waits for elastic to become reachable and creates index if missing
func (e *elastic) Init(ctx context.Context) error {
	err := e.repeater.Do(ctx, func() error {
		resp, err := e.client.Ping(e.client.Ping.WithContext(ctx))
		if err != nil {
			log.Printf("[WARN] elastic is not reachable, %v", err)
			return err
		}
		defer closeBody(resp)
		return checkElasticResponseErr(resp)
	})
	if err != nil {
		return errors.Wrap(err, "elastic is not available")
	}

	resp, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "error getting index status")
	}
	closeBody(resp)

	if resp.StatusCode == http.StatusOK {
		log.Printf("[INFO] index %q exists, skipping creation", e.index)
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return errors.Errorf("unexpected status %d checking index %q", resp.StatusCode, e.index)
	}

	resp, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithBody(esutil.NewJSONReader(e.buildCreateIndexSettings())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "error create index")
	}
	defer closeBody(resp)
	if err = checkElasticResponseErr(resp); err != nil {
		return errors.Wrapf(err, "error create index")
	}
	log.Printf("[INFO] index %q created", e.index)
	return nil
}

// Get returns source of the document
func (e *elastic) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := e.client.Get(e.index, id, e.client.Get.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get document %q", id)
	}
	defer closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.ErrNotFound
	}
	if err = checkElasticResponseErr(resp); err != nil {
		return nil, err
	}

	var r elasticGetResponse
	if err = json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "error parsing the response body")
	}
	if !r.Found {
		return nil, types.ErrNotFound
	}
	return r.Source, nil
}

// Search performs multi-match query over name and description
func (e *elastic) Search(ctx context.Context, req *types.Request) (*types.ResultPage, error) {
	query := elasticQuery{Size: req.Limit, From: req.From}
	query.Query.MultiMatch.Query = req.Query
	query.Query.MultiMatch.Fields = []string{nameFieldName, descriptionFieldName}

	resp, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(esutil.NewJSONReader(query)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer closeBody(resp)

	if err = checkElasticResponseErr(resp); err != nil {
		return nil, err
	}

	var r elasticResponse
	if err = json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "error parsing the response body")
	}
	serp := &types.ResultPage{
		Total:     uint64(r.Hits.Total.Value),
		Documents: make([]types.ResultDoc, 0, len(r.Hits.Hits)),
	}
	for _, v := range r.Hits.Hits {
		serp.Documents = append(serp.Documents, types.ResultDoc{ID: v.ID, Source: v.Source})
	}
	return serp, nil
}

// Index sends all items in one bulk request. Results are keyed by document id
// from the bulk response. Items with malformed payload are rejected without sending.
func (e *elastic) Index(ctx context.Context, items []types.BulkItem) ([]types.BulkItemResult, error) {
	results := make([]types.BulkItemResult, 0, len(items))
	body := bytes.Buffer{}
	sent := 0
	for _, item := range items {
		if err := e.appendBulkItem(&body, item); err != nil {
			results = append(results, rejected(item.Key, err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return results, nil
	}

	resp, err := e.client.Bulk(&body, e.client.Bulk.WithContext(ctx), e.client.Bulk.WithIndex(e.index))
	if err != nil {
		return nil, errors.Wrap(err, "bulk request failed")
	}
	defer closeBody(resp)
	if err = checkElasticResponseErr(resp); err != nil {
		return nil, err
	}

	var br esutil.BulkIndexerResponse
	if err = json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, errors.Wrap(err, "error parsing bulk response")
	}

	for _, respItem := range br.Items {
		for _, r := range respItem { // single action per item
			res := types.BulkItemResult{Key: r.DocumentID, Index: r.Index, Result: r.Result, Version: r.Version, Status: r.Status}
			if r.Status >= http.StatusMultipleChoices || r.Error.Type != "" {
				res.Err = &types.ItemError{Key: r.DocumentID, Status: r.Status, Type: r.Error.Type, Reason: r.Error.Reason}
			}
			results = append(results, res)
		}
	}
	if br.HasErrors {
		log.Printf("[WARN] bulk request to %q has rejected items", e.index)
	}
	return results, nil
}

func (e *elastic) appendBulkItem(buf *bytes.Buffer, item types.BulkItem) error {
	source := bytes.Buffer{}
	if err := json.Compact(&source, item.Payload); err != nil {
		return errors.Wrapf(err, "invalid json for %q", item.Key)
	}
	meta := bulkMeta{}
	meta.Index.Index, meta.Index.ID = e.index, item.Key
	metaLine, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrapf(err, "can't encode bulk meta for %q", item.Key)
	}
	buf.Write(metaLine)
	buf.WriteByte('\n')
	buf.Write(source.Bytes())
	buf.WriteByte('\n')
	return nil
}

// Close engine, elastic client keeps no state to release
func (e *elastic) Close() error {
	return nil
}
