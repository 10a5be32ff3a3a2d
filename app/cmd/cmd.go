// Package cmd has all top-level commands dispatched by main's flags.Commander
package cmd

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store/bulk"
	"github.com/spinscale/productsearch/backend/app/store/search"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
	"github.com/spinscale/productsearch/backend/app/store/service"
)

// CommonOptionsCommander extends flags.Commander with SetCommon
// All commands should implement this interfaces
type CommonOptionsCommander interface {
	SetCommon(commonOpts CommonOpts)
	Execute(args []string) error
}

// CommonOpts sets externally from main, shared across all commands
type CommonOpts struct {
	Revision string
}

// SetCommon satisfies CommonOptionsCommander interface and sets common option fields
func (c *CommonOpts) SetCommon(commonOpts CommonOpts) {
	c.Revision = commonOpts.Revision
}

// StoreOpts defines search engine, bulk writer and cache options shared by commands working with products
type StoreOpts struct {
	Engine struct {
		Type     string `long:"type" env:"TYPE" description:"search engine type" choice:"elastic" choice:"bleve" choice:"noop" default:"bleve"` //nolint
		Endpoint string `long:"endpoint" env:"ENDPOINT" default:"http://localhost:9200" description:"elasticsearch endpoint"`
		Secret   string `long:"secret" env:"SECRET" description:"elasticsearch credentials, basic:user:password or token:apikey"`
		Index    string `long:"index" env:"INDEX" default:"products" description:"elasticsearch index name"`
		Path     string `long:"path" env:"PATH" description:"bleve index location, in-memory index if empty"`
		Analyzer string `long:"analyzer" env:"ANALYZER" default:"standard" description:"text analyzer" choice:"standard" choice:"english" choice:"russian"` //nolint
	} `group:"engine" namespace:"engine" env-namespace:"ENGINE"`

	Bulk struct {
		Size     int           `long:"size" env:"SIZE" default:"100" description:"max products in one bulk request"`
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"1s" description:"max wait of the first queued product"`
		InFlight int           `long:"inflight" env:"INFLIGHT" default:"4" description:"max concurrent bulk requests"`
		Shutdown time.Duration `long:"shutdown" env:"SHUTDOWN" default:"30s" description:"max wait for in-flight bulk requests on exit"`
	} `group:"bulk" namespace:"bulk" env-namespace:"BULK"`

	Cache struct {
		MaxKeys int           `long:"max-keys" env:"MAX_KEYS" default:"1000" description:"max cached products, 0 disables cache"`
		TTL     time.Duration `long:"ttl" env:"TTL" default:"5m" description:"cache ttl"`
	} `group:"cache" namespace:"cache" env-namespace:"CACHE"`
}

func (s *StoreOpts) searcherParams() types.SearcherParams {
	return types.SearcherParams{
		Type:      s.Engine.Type,
		Index:     s.Engine.Index,
		IndexPath: s.Engine.Path,
		Analyzer:  s.Engine.Analyzer,
		Endpoint:  s.Engine.Endpoint,
		Secret:    s.Engine.Secret,
	}
}

func (s *StoreOpts) serviceParams() service.Params {
	return service.Params{
		Bulk: bulk.Params{
			MaxBatchSize:    s.Bulk.Size,
			FlushInterval:   s.Bulk.Interval,
			MaxInFlight:     s.Bulk.InFlight,
			ShutdownTimeout: s.Bulk.Shutdown,
		},
		CacheMaxKeys: s.Cache.MaxKeys,
		CacheTTL:     s.Cache.TTL,
	}
}

// makeProducts creates search engine, prepares its index and makes products service on top
func (s *StoreOpts) makeProducts(ctx context.Context) (*service.Products, error) {
	eng, err := search.NewEngine(s.searcherParams())
	if err != nil {
		return nil, errors.Wrap(err, "can't make search engine")
	}
	if err = eng.Init(ctx); err != nil {
		if e := eng.Close(); e != nil {
			log.Printf("[WARN] can't close search engine, %v", e)
		}
		return nil, errors.Wrapf(err, "can't init %s search engine", s.Engine.Type)
	}
	log.Printf("[INFO] search engine %s ready", s.Engine.Type)

	res, err := service.NewProducts(eng, s.serviceParams())
	if err != nil {
		if e := eng.Close(); e != nil {
			log.Printf("[WARN] can't close search engine, %v", e)
		}
		return nil, err
	}
	return res, nil
}
