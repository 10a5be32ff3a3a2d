package cmd

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umputun/go-flags"

	"github.com/spinscale/productsearch/backend/app/store"
	"github.com/spinscale/productsearch/backend/app/store/bulk"
	"github.com/spinscale/productsearch/backend/app/store/search/types"
)

func TestServerApp(t *testing.T) {
	port := chooseRandomUnusedPort()
	cmd := ServerCommand{StoreOpts: testStoreOpts(), Address: "127.0.0.1", Port: port, AsyncWait: time.Second}
	cmd.SetCommon(CommonOpts{Revision: "test-rev"})

	ctx, cancel := context.WithCancel(context.Background())
	app, err := cmd.newServerApp(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		assert.NoError(t, app.run(ctx))
		close(done)
	}()
	waitForHTTPServerStart(port)

	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	resp, err := http.Get(url + "/ping")
	require.NoError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, "test-rev", resp.Header.Get("App-Version"))

	req, err := http.NewRequest("PUT", url+"/api/v1/products/p1/async", strings.NewReader(`{"name":"tea"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// write queued right before shutdown is drained by the store close
	h := app.products.SaveAsync(store.Product{ID: "p2", Name: "green tea"})
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server app not terminated")
	}
	_, err = h.Wait(context.Background())
	assert.NoError(t, err, "write queued before shutdown drained")
	_, err = app.products.SaveAsync(store.Product{ID: "p3", Name: "black tea"}).Wait(context.Background())
	assert.Equal(t, bulk.ErrClosed, err)
}

func TestServerApp_BadEngine(t *testing.T) {
	cmd := ServerCommand{StoreOpts: testStoreOpts()}
	cmd.Engine.Type = "elastic"
	cmd.Engine.Endpoint = ""
	_, err := cmd.newServerApp(context.Background())
	assert.Error(t, err)
}

func TestStoreOpts_Flags(t *testing.T) {
	opts := struct {
		ServerCmd ServerCommand `command:"server"`
	}{}
	os.Setenv("BULK_SIZE", "42")
	defer os.Unsetenv("BULK_SIZE")

	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(flags.Commander, []string) error { return nil } // parse only, don't run server
	_, err := p.ParseArgs([]string{"server", "--engine.type=elastic", "--engine.secret=token:abc",
		"--bulk.interval=250ms", "--cache.max-keys=0", "--port=9090"})
	require.NoError(t, err)

	s := opts.ServerCmd
	assert.Equal(t, 9090, s.Port)
	assert.Equal(t, types.SearcherParams{Type: "elastic", Index: "products", Analyzer: "standard",
		Endpoint: "http://localhost:9200", Secret: "token:abc"}, s.searcherParams())

	params := s.serviceParams()
	assert.Equal(t, bulk.Params{MaxBatchSize: 42, FlushInterval: 250 * time.Millisecond, MaxInFlight: 4,
		ShutdownTimeout: 30 * time.Second}, params.Bulk)
	assert.Equal(t, 0, params.CacheMaxKeys)
	assert.Equal(t, 5*time.Minute, params.CacheTTL)
}

func chooseRandomUnusedPort() (port int) {
	for i := 0; i < 10; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			continue
		}
		port = l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
		return port
	}
	return 0
}

func waitForHTTPServerStart(port int) {
	// wait for up to 3 seconds for server to start before returning it
	client := http.Client{Timeout: time.Second}
	for i := 0; i < 300; i++ {
		time.Sleep(time.Millisecond * 10)
		if resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port)); err == nil {
			_ = resp.Body.Close()
			return
		}
	}
}
