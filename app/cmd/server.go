package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/spinscale/productsearch/backend/app/rest"
	"github.com/spinscale/productsearch/backend/app/store/service"
)

// ServerCommand with command line flags and env
type ServerCommand struct {
	StoreOpts

	Address   string        `long:"address" env:"ADDRESS" default:"*" description:"listening address"`
	Port      int           `long:"port" env:"PORT" default:"8080" description:"listening port"`
	AsyncWait time.Duration `long:"async-wait" env:"ASYNC_WAIT" default:"10s" description:"max wait for async save result"`
	RateLimit float64       `long:"rate-limit" env:"RATE_LIMIT" default:"50" description:"requests per second per client, 0 disables limit"`

	CommonOpts
}

// serverApp holds all active objects
type serverApp struct {
	*ServerCommand
	restSrv    *rest.Rest
	products   *service.Products
	terminated chan struct{}
}

// Execute is the entry point for "server" command, called by flag parser
func (s *ServerCommand) Execute(_ []string) error {
	log.Printf("[INFO] start server on port %s:%d", s.Address, s.Port)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	app, err := s.newServerApp(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to setup application")
	}
	if err = app.run(ctx); err != nil {
		return errors.Wrap(err, "server terminated with error")
	}
	log.Printf("[INFO] productsearch terminated")
	return nil
}

func (s *ServerCommand) newServerApp(ctx context.Context) (*serverApp, error) {
	products, err := s.makeProducts(ctx)
	if err != nil {
		return nil, err
	}

	srv := &rest.Rest{
		Version:   s.Revision,
		Products:  products,
		AsyncWait: s.AsyncWait,
		RateLimit: s.RateLimit,
	}
	return &serverApp{ServerCommand: s, restSrv: srv, products: products, terminated: make(chan struct{})}, nil
}

// run the rest server, blocks until ctx canceled and the store drained
func (a *serverApp) run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Print("[INFO] shutdown initiated")
		a.restSrv.Shutdown()
		// async writes accepted by the stopped server get flushed here
		if err := a.products.Close(); err != nil {
			log.Printf("[WARN] failed to close products store, %v", err)
		}
		log.Print("[INFO] shutdown completed")
		close(a.terminated)
	}()

	a.restSrv.Run(a.Address, a.Port)
	<-a.terminated
	return nil
}
