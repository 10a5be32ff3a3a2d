package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/spinscale/productsearch/backend/app/store"
	"github.com/spinscale/productsearch/backend/app/store/bulk"
)

// ImportCommand set of flags and command for import
type ImportCommand struct {
	StoreOpts

	InputFile string        `short:"f" long:"file" env:"IMPORT_FILE" required:"true" description:"products, one json per line, - for stdin"`
	Timeout   time.Duration `long:"timeout" env:"IMPORT_TIMEOUT" default:"15m" description:"import timeout"`

	CommonOpts
}

// asyncSaver queues products for bulk writes
type asyncSaver interface {
	SaveAsync(product store.Product) *bulk.Handle
	Flush()
}

// importStats counts products of the import
type importStats struct {
	Lines  int
	Saved  int
	Failed int
}

// importRecord is one line of the input
type importRecord struct {
	ID string `json:"id"`
	store.Product
}

const maxImportLine = 1024 * 1024

// Execute runs import with ImportCommand parameters, entry point for "import" command
func (ic *ImportCommand) Execute(_ []string) error {
	log.Printf("[INFO] import products from %s", ic.InputFile)

	ctx, cancel := context.WithTimeout(context.Background(), ic.Timeout)
	defer cancel()

	reader := io.Reader(os.Stdin)
	if ic.InputFile != "-" {
		fh, err := os.Open(ic.InputFile)
		if err != nil {
			return errors.Wrapf(err, "can't open import file %s", ic.InputFile)
		}
		defer fh.Close() //nolint
		reader = fh
	}

	products, err := ic.makeProducts(ctx)
	if err != nil {
		return err
	}

	st := time.Now()
	stats, importErr := importProducts(ctx, products, reader)
	if err = products.Close(); err != nil {
		log.Printf("[WARN] failed to close products store, %v", err)
	}
	if importErr != nil {
		return errors.Wrapf(importErr, "import interrupted after %d lines", stats.Lines)
	}
	log.Printf("[INFO] import completed in %v, lines %d, saved %d, failed %d",
		time.Since(st), stats.Lines, stats.Saved, stats.Failed)
	if stats.Failed > 0 {
		return errors.Errorf("%d products failed to import", stats.Failed)
	}
	return nil
}

// importProducts reads products line by line and saves each through async bulk writer.
// Records without id get a new one. Repeated id waits for the previous write of the same id,
// so the last line wins.
func importProducts(ctx context.Context, saver asyncSaver, r io.Reader) (stats importStats, err error) {
	pending := map[string]*bulk.Handle{}

	collect := func(h *bulk.Handle) error {
		if _, err := h.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[WARN] product %s not imported, %v", h.Key(), err)
			stats.Failed++
			return nil
		}
		stats.Saved++
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		rec := importRecord{}
		if err = json.Unmarshal(line, &rec); err != nil {
			log.Printf("[WARN] bad product at line %d, %v", stats.Lines, err)
			stats.Failed++
			continue
		}
		product := rec.Product
		product.ID = rec.ID
		if product.ID == "" {
			product.ID = xid.New().String()
		}

		if prev, ok := pending[product.ID]; ok {
			saver.Flush()
			if err = collect(prev); err != nil {
				return stats, err
			}
		}
		pending[product.ID] = saver.SaveAsync(product)
	}
	if err = scanner.Err(); err != nil {
		return stats, errors.Wrap(err, "can't read products")
	}

	saver.Flush()
	for _, h := range pending {
		if err = collect(h); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
