// Package store defines product documents and pages of search results
package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// DefaultPageSize used for the first page of search results
const DefaultPageSize = 10

// Product is a document kept in search index.
// ID is index metadata and never goes into the document source.
type Product struct {
	ID             string  `json:"-"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	StockAvailable int     `json:"stock_available"`
	Price          float64 `json:"price"`
}

// productJSON is used to show id in api responses, source json never has it
type productJSON struct {
	ID string `json:"id"`
	Product
}

// Source returns json document for the index
func (p Product) Source() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "can't encode product %q", p.ID)
	}
	return data, nil
}

// ProductFromSource decodes index document, fields missing in source stay empty
func ProductFromSource(id string, source []byte) (Product, error) {
	res := Product{}
	if err := json.Unmarshal(source, &res); err != nil {
		return Product{}, errors.Wrapf(err, "can't decode product %q", id)
	}
	res.ID = id
	return res, nil
}

// WithID returns json-friendly product including id
func (p Product) WithID() interface{} {
	return productJSON{ID: p.ID, Product: p}
}

// Page is a slice of search results along with request parameters made it
type Page struct {
	Products []Product `json:"products"`
	Input    string    `json:"input"`
	From     int       `json:"from"`
	Size     int       `json:"size"`
}

// EmptyPage returned when search has no hits
var EmptyPage = Page{Products: []Product{}}

// Empty returns true if page has no products
func (p Page) Empty() bool {
	return len(p.Products) == 0
}

// Next returns request parameters of the following page
func (p Page) Next() (input string, from, size int) {
	return p.Input, p.From + p.Size, p.Size
}
