// Package service implements product store on top of search engine
// with async bulk writes for single products
package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lcw"
	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/spinscale/productsearch/backend/app/store"
	"github.com/spinscale/productsearch/backend/app/store/bulk"
	"github.com/spinscale/productsearch/backend/app/store/search"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// Products provides find, search and save of products
type Products struct {
	engine search.Engine
	writer *bulk.Coordinator
	cache  lcw.LoadingCache

	closeOnce sync.Once
	closeErr  error
}

// Params configures Products
type Params struct {
	Bulk         bulk.Params
	CacheMaxKeys int           // zero disables cache
	CacheTTL     time.Duration // default 5m
}

// NewProducts makes Products service on initialized engine
func NewProducts(engine search.Engine, params Params) (*Products, error) {
	res := &Products{engine: engine}

	if params.CacheMaxKeys > 0 {
		if params.CacheTTL <= 0 {
			params.CacheTTL = 5 * time.Minute
		}
		cache, err := lcw.NewExpirableCache(lcw.MaxKeys(params.CacheMaxKeys), lcw.TTL(params.CacheTTL))
		if err != nil {
			return nil, errors.Wrap(err, "can't make products cache")
		}
		res.cache = cache
	} else {
		res.cache = lcw.NewNopCache()
	}

	// async write may land after a read cached the old document, drop it again on completion
	onResolved := params.Bulk.OnResolved
	params.Bulk.OnResolved = func(key string, err error) {
		res.cache.Delete(key)
		if onResolved != nil {
			onResolved(key, err)
		}
	}
	res.writer = bulk.New(engine, params.Bulk)
	return res, nil
}

// FindByID returns product by id, types.ErrNotFound if there is no such product
func (p *Products) FindByID(ctx context.Context, id string) (store.Product, error) {
	val, err := p.cache.Get(id, func() (lcw.Value, error) {
		source, err := p.engine.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return store.ProductFromSource(id, source)
	})
	if err != nil {
		return store.Product{}, errors.Wrapf(err, "can't find product %q", id)
	}
	return val.(store.Product), nil
}

// Search returns the first page of products matching input in name or description
func (p *Products) Search(ctx context.Context, input string) (store.Page, error) {
	return p.page(ctx, input, 0, store.DefaultPageSize)
}

// Next returns page following the given one
func (p *Products) Next(ctx context.Context, page store.Page) (store.Page, error) {
	if page.Input == "" {
		return store.EmptyPage, nil
	}
	input, from, size := page.Next()
	if size <= 0 {
		size = store.DefaultPageSize
	}
	return p.page(ctx, input, from, size)
}

func (p *Products) page(ctx context.Context, input string, from, size int) (store.Page, error) {
	serp, err := p.engine.Search(ctx, &types.Request{Query: input, From: from, Limit: size})
	if err != nil {
		return store.Page{}, errors.Wrapf(err, "search for %q failed", input)
	}
	if serp.Total == 0 || len(serp.Documents) == 0 {
		return store.EmptyPage, nil
	}

	products := make([]store.Product, 0, len(serp.Documents))
	for _, doc := range serp.Documents {
		product, err := store.ProductFromSource(doc.ID, doc.Source)
		if err != nil {
			return store.Page{}, err
		}
		products = append(products, product)
	}
	return store.Page{Products: products, Input: input, From: from, Size: size}, nil
}

// Save stores product right away, new id is set for product without one
func (p *Products) Save(ctx context.Context, product *store.Product) error {
	return p.SaveBatch(ctx, []*store.Product{product})
}

// SaveBatch stores all products in one bulk request. Products without id get
// a new one. Rejected products reported in returned multierror.
func (p *Products) SaveBatch(ctx context.Context, products []*store.Product) error {
	if len(products) == 0 {
		return nil
	}

	items := make([]types.BulkItem, 0, len(products))
	for _, product := range products {
		if product.ID == "" {
			product.ID = xid.New().String()
		}
		source, err := product.Source()
		if err != nil {
			return err
		}
		items = append(items, types.BulkItem{Key: product.ID, Payload: source})
	}

	results, err := p.engine.Index(ctx, items)
	p.invalidate(items)
	if err != nil {
		return errors.Wrapf(err, "can't save %d products", len(products))
	}

	errs := new(multierror.Error)
	for _, res := range results {
		if res.Err != nil {
			errs = multierror.Append(errs, res.Err)
		}
	}
	return errs.ErrorOrNil()
}

// SaveAsync queues product for the next bulk request. Product must have id,
// only one write per id may be in flight. Outcome is reported by the handle.
// Cached product is invalidated on submit and again before the handle resolves.
func (p *Products) SaveAsync(product store.Product) *bulk.Handle {
	source, err := product.Source()
	if err != nil {
		log.Printf("[WARN] async save rejected, %v", err)
		return bulk.Failed(product.ID, err)
	}
	p.cache.Delete(product.ID)
	return p.writer.Submit(product.ID, source)
}

// Flush sends queued async writes right away
func (p *Products) Flush() {
	p.writer.Flush()
}

func (p *Products) invalidate(items []types.BulkItem) {
	for _, item := range items {
		p.cache.Delete(item.Key)
	}
}

// Close drains async writes and closes cache and engine. Repeated calls return the first result.
func (p *Products) Close() error {
	p.closeOnce.Do(func() {
		errs := new(multierror.Error)
		if err := p.writer.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "can't close bulk writer"))
		}
		if err := p.cache.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "can't close cache"))
		}
		if err := p.engine.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "can't close search engine"))
		}
		p.closeErr = errs.ErrorOrNil()
	})
	return p.closeErr
}
