// Package rest provides http api of the product store
package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	R "github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/store"
	"github.com/spinscale/productsearch/backend/app/store/bulk"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

// ProductService is the store used by handlers
type ProductService interface {
	FindByID(ctx context.Context, id string) (store.Product, error)
	Search(ctx context.Context, input string) (store.Page, error)
	Next(ctx context.Context, page store.Page) (store.Page, error)
	Save(ctx context.Context, product *store.Product) error
	SaveBatch(ctx context.Context, products []*store.Product) error
	SaveAsync(product store.Product) *bulk.Handle
}

// Rest is a rest access server
type Rest struct {
	Version   string
	Products  ProductService
	AsyncWait time.Duration // max wait for async write result, default 10s
	RateLimit float64       // requests per second per client, zero disables limiter

	lock       sync.Mutex
	httpServer *http.Server
}

const maxBatchBody = 4 * 1024 * 1024

// Run the listener and request's router, activate rest server
func (s *Rest) Run(address string, port int) {
	if address == "*" {
		address = ""
	}
	log.Printf("[INFO] activate http rest server on %s:%d", address, port)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.lock.Unlock()

	err := s.httpServer.ListenAndServe()
	log.Printf("[WARN] http server terminated, %s", err)
}

// Shutdown rest http server
func (s *Rest) Shutdown() {
	log.Print("[WARN] shutdown rest server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[DEBUG] http shutdown error, %s", err)
		}
		log.Print("[DEBUG] shutdown http server completed")
	}
}

func (s *Rest) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Throttle(1000), middleware.RealIP, R.Recoverer(log.Default()))
	router.Use(R.AppInfo("productsearch", "spinscale", s.Version), R.Ping)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	router.Use(corsMiddleware.Handler)

	router.Route("/api/v1", func(rapi chi.Router) {
		rapi.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler)
		if s.RateLimit > 0 {
			rapi.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(s.RateLimit, nil)))
		}
		rapi.Get("/products/{id}", s.getProductCtrl)
		rapi.Post("/products", s.saveProductCtrl)
		rapi.Post("/products/batch", s.saveBatchCtrl)
		rapi.Put("/products/{id}/async", s.saveAsyncCtrl)
		rapi.Get("/search", s.searchCtrl)
		rapi.Get("/search/next", s.searchNextCtrl)
	})
	return router
}

// productRequest is a product with id as it comes in api requests
type productRequest struct {
	ID string `json:"id"`
	store.Product
}

func (p productRequest) product() store.Product {
	res := p.Product
	res.ID = p.ID
	return res
}

type pageResponse struct {
	Products []interface{} `json:"products"`
	Input    string        `json:"input"`
	From     int           `json:"from"`
	Size     int           `json:"size"`
}

func makePageResponse(page store.Page) pageResponse {
	res := pageResponse{Products: make([]interface{}, 0, len(page.Products)), Input: page.Input, From: page.From, Size: page.Size}
	for _, p := range page.Products {
		res.Products = append(res.Products, p.WithID())
	}
	return res
}

// GET /api/v1/products/{id}
func (s *Rest) getProductCtrl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	product, err := s.Products.FindByID(r.Context(), id)
	if err != nil {
		R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't get product")
		return
	}
	render.JSON(w, r, product.WithID())
}

// GET /api/v1/search?q=milk
func (s *Rest) searchCtrl(w http.ResponseWriter, r *http.Request) {
	input := r.URL.Query().Get("q")
	if input == "" {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, errors.New("empty query"), "missing q parameter")
		return
	}
	page, err := s.Products.Search(r.Context(), input)
	if err != nil {
		R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't search products")
		return
	}
	render.JSON(w, r, makePageResponse(page))
}

// GET /api/v1/search/next?q=milk&from=0&size=10, parameters of the current page
func (s *Rest) searchNextCtrl(w http.ResponseWriter, r *http.Request) {
	current := store.Page{Input: r.URL.Query().Get("q")}
	var err error
	if current.From, err = intParam(r, "from", 0); err != nil {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "bad from parameter")
		return
	}
	if current.Size, err = intParam(r, "size", store.DefaultPageSize); err != nil {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "bad size parameter")
		return
	}

	page, err := s.Products.Next(r.Context(), current)
	if err != nil {
		R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't search products")
		return
	}
	render.JSON(w, r, makePageResponse(page))
}

// POST /api/v1/products, saves product right away
func (s *Rest) saveProductCtrl(w http.ResponseWriter, r *http.Request) {
	req := productRequest{}
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBatchBody), &req); err != nil {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode product")
		return
	}
	product := req.product()
	if err := s.Products.Save(r.Context(), &product); err != nil {
		R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't save product")
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, product.WithID())
}

// POST /api/v1/products/batch, saves all products in one bulk request
func (s *Rest) saveBatchCtrl(w http.ResponseWriter, r *http.Request) {
	reqs := []productRequest{}
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBatchBody), &reqs); err != nil {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode products")
		return
	}

	products := make([]*store.Product, 0, len(reqs))
	for _, req := range reqs {
		p := req.product()
		products = append(products, &p)
	}

	failed := map[string]string{}
	if err := s.Products.SaveBatch(r.Context(), products); err != nil {
		merr, ok := err.(*multierror.Error)
		if !ok {
			R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't save products")
			return
		}
		for _, e := range merr.Errors {
			itemErr := &types.ItemError{}
			if errors.As(e, &itemErr) {
				failed[itemErr.Key] = itemErr.Error()
			}
		}
	}

	saved := []string{}
	for _, p := range products {
		if _, ok := failed[p.ID]; !ok {
			saved = append(saved, p.ID)
		}
	}
	if len(failed) == 0 {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, R.JSON{"saved": saved, "failed": failed})
}

// PUT /api/v1/products/{id}/async, queues product for the next bulk request and waits for its outcome
func (s *Rest) saveAsyncCtrl(w http.ResponseWriter, r *http.Request) {
	product := store.Product{}
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBatchBody), &product); err != nil {
		R.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode product")
		return
	}
	product.ID = chi.URLParam(r, "id")

	wait := s.AsyncWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	res, err := s.Products.SaveAsync(product).Wait(ctx)
	if err != nil {
		R.SendErrorJSON(w, r, log.Default(), statusFor(err), err, "can't save product")
		return
	}
	render.JSON(w, r, res)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return def, nil
	}
	res, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrapf(err, "parameter %s", name)
	}
	if res < 0 {
		return 0, errors.Errorf("parameter %s can't be negative", name)
	}
	return res, nil
}

// statusFor maps store and bulk writer errors to http status
func statusFor(err error) int {
	itemErr := &types.ItemError{}
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bulk.ErrDuplicateWrite):
		return http.StatusConflict
	case errors.Is(err, bulk.ErrEmptyKey):
		return http.StatusBadRequest
	case errors.Is(err, bulk.ErrClosed), errors.Is(err, types.ErrSearchNotEnabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &itemErr):
		if itemErr.Status >= 400 && itemErr.Status < 500 {
			return itemErr.Status
		}
		return http.StatusBadGateway
	}
	bErr := &bulk.BatchError{}
	if errors.As(err, &bErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
