package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/defi-agent/internal/cache"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/httpx"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

// Client reads USD spot prices from the CoinGecko simple price API. Results are
// cached so repeated fallback quotes within the TTL do not hit the API.
type Client struct {
	http     *httpx.Client
	baseURL  string
	store    *cache.Store
	ttl      time.Duration
	maxStale time.Duration
	log      logrus.FieldLogger
}

type Option func(*Client)

func WithCache(store *cache.Store, ttl, maxStale time.Duration) Option {
	return func(c *Client) {
		c.store = store
		if ttl > 0 {
			c.ttl = ttl
		}
		c.maxStale = maxStale
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(httpClient *httpx.Client, baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.CoinGeckoBaseURL
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     60 * time.Second,
		log:     discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type simplePriceResponse map[string]struct {
	USD float64 `json:"usd"`
}

// USDPrices returns price-per-unit in USD keyed by CoinGecko id. Ids missing
// from the response are absent from the map.
func (c *Client) USDPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	key := "pricefeed:usd:" + strings.Join(ids, ",")

	var cached map[string]float64
	var staleOK bool
	if c.store != nil {
		res, ok, err := c.store.GetJSON(key, c.maxStale, &cached)
		if err != nil {
			c.log.WithError(err).Warn("price cache read failed")
		}
		if ok && !res.Stale {
			return cached, nil
		}
		staleOK = ok
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	var resp simplePriceResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/simple/price?"+q.Encode(), nil, &resp); err != nil {
		if staleOK {
			c.log.WithError(err).Debug("price feed unavailable, serving stale prices")
			return cached, nil
		}
		return nil, err
	}

	out := make(map[string]float64, len(resp))
	for id, v := range resp {
		if v.USD > 0 {
			out[id] = v.USD
		}
	}
	if c.store != nil {
		if err := c.store.SetJSON(key, out, c.ttl); err != nil {
			c.log.WithError(err).Warn("price cache write failed")
		}
	}
	return out, nil
}

// USDPrice returns the USD price for a single id.
func (c *Client) USDPrice(ctx context.Context, id string) (float64, error) {
	prices, err := c.USDPrices(ctx, []string{id})
	if err != nil {
		return 0, err
	}
	v, ok := prices[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no usd price for %s", id))
	}
	return v, nil
}

func normalizeIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
