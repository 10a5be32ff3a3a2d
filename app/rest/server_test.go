package rest

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinscale/productsearch/backend/app/store"
	"github.com/spinscale/productsearch/backend/app/store/bulk"
	"github.com/spinscale/productsearch/backend/app/store/search"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
	"github.com/spinscale/productsearch/backend/app/store/service"
)

func prep(t *testing.T, bulkParams bulk.Params) (srv *Rest, ts *httptest.Server, svc *service.Products) {
	eng, err := search.NewEngine(types.SearcherParams{Type: search.BleveEngine})
	require.NoError(t, err)
	require.NoError(t, eng.Init(context.Background()))
	svc, err = service.NewProducts(eng, service.Params{Bulk: bulkParams, CacheMaxKeys: 100})
	require.NoError(t, err)

	srv = &Rest{Version: "test", Products: svc, AsyncWait: 5 * time.Second}
	ts = httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, svc.Close())
	})
	return srv, ts, svc
}

func send(t *testing.T, method, url, body string) (code int, respBody string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestRest_Ping(t *testing.T) {
	_, ts, _ := prep(t, bulk.Params{})
	code, body := send(t, "GET", ts.URL+"/ping", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body)
}

func TestRest_SaveAndGet(t *testing.T) {
	_, ts, _ := prep(t, bulk.Params{})

	code, body := send(t, "POST", ts.URL+"/api/v1/products",
		`{"id":"p1","name":"Fresh milk","description":"whole milk","price":1.5,"stock_available":4}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.JSONEq(t, `{"id":"p1","name":"Fresh milk","description":"whole milk","price":1.5,"stock_available":4}`, body)

	code, body = send(t, "GET", ts.URL+"/api/v1/products/p1", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"id":"p1","name":"Fresh milk","description":"whole milk","price":1.5,"stock_available":4}`, body)

	code, _ = send(t, "GET", ts.URL+"/api/v1/products/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = send(t, "POST", ts.URL+"/api/v1/products", `{"name":"Bread"}`)
	require.Equal(t, http.StatusCreated, code, body)
	p := struct{ ID string }{}
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.NotEmpty(t, p.ID, "id assigned")

	code, _ = send(t, "POST", ts.URL+"/api/v1/products", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRest_BatchAndSearch(t *testing.T) {
	_, ts, _ := prep(t, bulk.Params{})

	items := []string{}
	for _, id := range []string{"t01", "t02", "t03", "t04", "t05", "t06", "t07", "t08", "t09", "t10", "t11", "t12"} {
		items = append(items, `{"id":"`+id+`","name":"green tea","price":3}`)
	}
	code, body := send(t, "POST", ts.URL+"/api/v1/products/batch", "["+strings.Join(items, ",")+"]")
	require.Equal(t, http.StatusCreated, code, body)
	batchResp := struct {
		Saved  []string          `json:"saved"`
		Failed map[string]string `json:"failed"`
	}{}
	require.NoError(t, json.Unmarshal([]byte(body), &batchResp))
	assert.Len(t, batchResp.Saved, 12)
	assert.Empty(t, batchResp.Failed)

	page := pageResponse{}
	code, body = send(t, "GET", ts.URL+"/api/v1/search?q=tea", "")
	require.Equal(t, http.StatusOK, code, body)
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.Len(t, page.Products, 10)
	assert.Equal(t, "tea", page.Input)
	assert.Equal(t, 10, page.Size)
	assert.Contains(t, page.Products[0], "id")

	code, body = send(t, "GET", ts.URL+"/api/v1/search/next?q=tea&from=0&size=10", "")
	require.Equal(t, http.StatusOK, code, body)
	page = pageResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.Len(t, page.Products, 2)
	assert.Equal(t, 10, page.From)

	code, body = send(t, "GET", ts.URL+"/api/v1/search/next?q=tea&from=10&size=10", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"products":[],"input":"","from":0,"size":0}`, body)

	code, _ = send(t, "GET", ts.URL+"/api/v1/search/next?q=tea&from=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = send(t, "GET", ts.URL+"/api/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRest_BatchBadInput(t *testing.T) {
	_, ts, _ := prep(t, bulk.Params{})
	code, body := send(t, "POST", ts.URL+"/api/v1/products/batch", `[{"id":"p1","name":"tea"},{"id":"p2","name":"coffee"}]`)
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = send(t, "POST", ts.URL+"/api/v1/products/batch", `{"id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, code, "object instead of list")
}

func TestRest_SaveAsync(t *testing.T) {
	_, ts, _ := prep(t, bulk.Params{FlushInterval: 10 * time.Millisecond})

	code, body := send(t, "PUT", ts.URL+"/api/v1/products/p1/async", `{"name":"coffee","price":7}`)
	require.Equal(t, http.StatusOK, code, body)
	res := types.BulkItemResult{}
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, "p1", res.Key)
	assert.Equal(t, http.StatusOK, res.Status)

	code, body = send(t, "GET", ts.URL+"/api/v1/products/p1", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"id":"p1","name":"coffee","description":"","price":7,"stock_available":0}`, body)
}

func TestRest_SaveAsyncConflictAndTimeout(t *testing.T) {
	srv, ts, svc := prep(t, bulk.Params{FlushInterval: time.Hour})
	srv.AsyncWait = 50 * time.Millisecond

	pending := svc.SaveAsync(store.Product{ID: "p1", Name: "tea"})

	code, _ := send(t, "PUT", ts.URL+"/api/v1/products/p1/async", `{"name":"green tea"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = send(t, "PUT", ts.URL+"/api/v1/products/p2/async", `{"name":"black tea"}`)
	assert.Equal(t, http.StatusGatewayTimeout, code, "write queued, result not ready in time")

	svc.Flush()
	_, err := pending.Wait(context.Background())
	assert.NoError(t, err)

	require.NoError(t, svc.Close())
	code, _ = send(t, "PUT", ts.URL+"/api/v1/products/p3/async", `{"name":"white tea"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRest_RateLimit(t *testing.T) {
	srv, ts, _ := prep(t, bulk.Params{})
	ts.Close()
	srv.RateLimit = 1
	ts = httptest.NewServer(srv.routes())
	defer ts.Close()

	codes := []int{}
	for i := 0; i < 3; i++ {
		code, _ := send(t, "GET", ts.URL+"/api/v1/search?q=tea", "")
		codes = append(codes, code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes[1:], http.StatusTooManyRequests)
}

func TestRest_RunShutdown(t *testing.T) {
	srv, _, _ := prep(t, bulk.Params{})
	done := make(chan struct{})
	go func() {
		srv.Run("127.0.0.1", 0)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	srv.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server not stopped")
	}
}
