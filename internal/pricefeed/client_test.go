package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-agent/internal/cache"
	"github.com/ggonzalez94/defi-agent/internal/httpx"
)

func TestUSDPricesQueriesSortedIDsAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "usd-coin,weth" {
			t.Errorf("unexpected ids %q", got)
		}
		_, _ = w.Write([]byte(`{"weth":{"usd":2600},"usd-coin":{"usd":1}}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	client := New(httpx.New(time.Second, 0), srv.URL, WithCache(store, time.Minute, time.Minute))
	prices, err := client.USDPrices(context.Background(), []string{"WETH", "usd-coin", "weth"})
	if err != nil {
		t.Fatalf("USDPrices failed: %v", err)
	}
	if prices["weth"] != 2600 || prices["usd-coin"] != 1 {
		t.Fatalf("unexpected prices %+v", prices)
	}
	if _, err := client.USDPrices(context.Background(), []string{"weth", "usd-coin"}); err != nil {
		t.Fatalf("cached USDPrices failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected second call to be served from cache, got %d upstream calls", calls)
	}
}

func TestUSDPriceMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(httpx.New(time.Second, 0), srv.URL)
	if _, err := client.USDPrice(context.Background(), "dogecoin"); err == nil {
		t.Fatal("expected error for missing price")
	}
}
