// Package fetcher serves upstream JSON through a cache-aside record store.
//
// A cached record younger than the TTL is served as-is. An absent or older record
// triggers one upstream GET whose transformed body is written back to the store and
// returned. Concurrent misses on the same key share a single upstream call.
//
// Store writes are fire-and-forget: the payload is returned as soon as the write is
// issued, and write failures are logged rather than reported to the caller. Call Flush
// to wait for pending writes.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iTrooz/podcast-proxy/internal/cache"
	"github.com/iTrooz/podcast-proxy/internal/escape"
	"github.com/iTrooz/podcast-proxy/internal/events"
	"github.com/iTrooz/podcast-proxy/internal/feed"
	"github.com/iTrooz/podcast-proxy/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 24 * time.Hour
	DefaultUserAgent      = "Mozilla/5.0"
	DefaultSearchEndpoint = "https://itunes.apple.com/search?media=podcast&term="
	DefaultTimeout        = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second

	// upstream bodies above this size are rejected
	maxBodySize = 64 << 20
)

// Engine fetches upstream payloads through the record store
type Engine struct {
	store          cache.Store
	client         *http.Client
	ttl            time.Duration
	userAgent      string
	searchEndpoint string
	writeTimeout   time.Duration
	publisher      events.Publisher
	decoder        *feed.Decoder
	now            func() time.Time

	inflight singleflight.Group
	writes   sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithTTL sets the age from which a cached record is refetched
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithHTTPClient sets the client used for upstream requests
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.client = client }
}

// WithUserAgent sets the User-Agent header of upstream requests
func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

// WithSearchEndpoint sets the prefix the escaped search term is appended to
func WithSearchEndpoint(endpoint string) Option {
	return func(e *Engine) { e.searchEndpoint = endpoint }
}

// WithWriteTimeout bounds each background store write
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.writeTimeout = d }
}

// WithPublisher announces every successful store write
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithDecoder sets the decoder applied to feed bodies
func WithDecoder(d *feed.Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithClock sets the clock used to judge record freshness
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine writing to store
func New(store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		client:         &http.Client{Timeout: DefaultTimeout},
		ttl:            DefaultTTL,
		userAgent:      DefaultUserAgent,
		searchEndpoint: DefaultSearchEndpoint,
		writeTimeout:   DefaultWriteTimeout,
		publisher:      events.NopPublisher{},
		decoder:        feed.NewDecoder(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewHTTPClient returns a client for upstream requests, optionally routed through an HTTP proxy
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// Search returns podcast search results for term
func (e *Engine) Search(ctx context.Context, term string) (any, error) {
	return e.Fetch(ctx, cache.CollectionQueries, e.SearchURI(term), NoTransform)
}

// SearchURI builds the upstream target, which is also the cache key, of a search
func (e *Engine) SearchURI(term string) string {
	return e.searchEndpoint + url.QueryEscape(escape.InHTMLData(term))
}

// Feed returns the decoded document of the feed at feedURI
func (e *Engine) Feed(ctx context.Context, feedURI string) (any, error) {
	return e.Fetch(ctx, cache.CollectionFeeds, FeedURI(feedURI), FeedTransform(e.decoder))
}

// FeedURI builds the upstream target, which is also the cache key, of a feed
func FeedURI(feedURI string) string {
	return escape.URIInHTMLData(feedURI)
}

// Fetch looks targetURI up in collection and hands the result to FetchWithCache
func (e *Engine) Fetch(ctx context.Context, collection, targetURI string, t Transform) (any, error) {
	cached, err := e.store.Lookup(ctx, collection, targetURI)
	if err != nil {
		return nil, fmt.Errorf("looking up %s in %s: %w", targetURI, collection, err)
	}
	return e.FetchWithCache(ctx, cached, collection, targetURI, t)
}

// FetchWithCache serves cached when it is fresh, otherwise fetches targetURI,
// writes the transformed body back to collection and returns it parsed.
// cached is the result of a lookup of targetURI in collection, nil when absent.
func (e *Engine) FetchWithCache(ctx context.Context, cached *cache.Record, collection, targetURI string, t Transform) (any, error) {
	if cached != nil {
		age := cached.Age(e.now())
		if age < e.ttl {
			logrus.Debugf("Serving %s from %s cache (age %s)", targetURI, collection, age.Round(time.Second))
			metrics.CacheLookupsTotal.WithLabelValues(collection, "hit").Inc()
			return parsePayload(cached.Data)
		}
		logrus.Infof("Cached data for %s is out of date (age %s), getting fresh data", targetURI, age.Round(time.Second))
		metrics.CacheLookupsTotal.WithLabelValues(collection, "stale").Inc()
	} else {
		logrus.Infof("No cached data for %s, getting fresh data", targetURI)
		metrics.CacheLookupsTotal.WithLabelValues(collection, "miss").Inc()
	}

	// The shared fetch outlives any single caller, it is bounded by the client timeout.
	ch := e.inflight.DoChan(collection+"\x00"+targetURI, func() (any, error) {
		return e.refresh(context.WithoutCancel(ctx), cached, collection, targetURI, t)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Shared {
		metrics.SharedFetchesTotal.WithLabelValues(collection).Inc()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// every caller parses its own copy so results never alias
	return parsePayload(res.Val.(string))
}

// Flush waits for pending store writes
func (e *Engine) Flush() {
	e.writes.Wait()
}

func (e *Engine) refresh(ctx context.Context, cached *cache.Record, collection, targetURI string, t Transform) (string, error) {
	resp, body, err := e.get(ctx, collection, targetURI)
	if err != nil {
		return "", err
	}

	value, err := t.apply(ctx, resp, body)
	if err != nil {
		metrics.TransformErrorsTotal.WithLabelValues(collection).Inc()
		return "", fmt.Errorf("transforming %s: %w", targetURI, err)
	}
	if !json.Valid([]byte(value)) {
		metrics.TransformErrorsTotal.WithLabelValues(collection).Inc()
		return "", &SerializationError{Err: fmt.Errorf("payload of %s is not JSON", targetURI)}
	}

	e.write(collection, cached, targetURI, value)
	return value, nil
}

func (e *Engine) get(ctx context.Context, collection, targetURI string) (*http.Response, []byte, error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamFetchDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	}()

	fail := func(statusCode int, err error) (*http.Response, []byte, error) {
		metrics.UpstreamFetchesTotal.WithLabelValues(collection, "error").Inc()
		return nil, nil, &UpstreamFetchError{URI: targetURI, StatusCode: statusCode, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURI, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return fail(0, err)
	}
	if len(body) > maxBodySize {
		return fail(0, fmt.Errorf("body exceeds %d bytes", maxBodySize))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	metrics.UpstreamFetchesTotal.WithLabelValues(collection, "success").Inc()
	logrus.Debugf("Fetched %s -> %d (%d bytes)", targetURI, resp.StatusCode, len(body))
	return resp, body, nil
}

// write persists value in the background, updating cached in place when it exists
func (e *Engine) write(collection string, cached *cache.Record, targetURI, value string) {
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
		defer cancel()

		rec := cache.Record{RequestURI: targetURI, Data: value}
		op := events.OperationInsert
		var id string
		var err error
		if cached != nil {
			op = events.OperationUpdate
			id = cached.ID
			logrus.Infof("Updating outdated %s record %s", collection, id)
			err = e.store.Update(ctx, collection, id, rec)
			if errors.Is(err, cache.ErrNotFound) {
				logrus.Warnf("Record %s vanished from %s, inserting instead", id, collection)
				op = events.OperationInsert
				id, err = e.store.Insert(ctx, collection, rec)
			}
		} else {
			logrus.Infof("Pushing new %s record for %s", collection, targetURI)
			id, err = e.store.Insert(ctx, collection, rec)
		}

		if err != nil {
			metrics.StoreWritesTotal.WithLabelValues(collection, op, "error").Inc()
			logrus.Errorf("Failed to %s %s record for %s: %v", op, collection, targetURI, err)
			return
		}
		metrics.StoreWritesTotal.WithLabelValues(collection, op, "success").Inc()

		event := events.CacheRefresh{
			Collection: collection,
			RequestURI: targetURI,
			RecordID:   id,
			Operation:  op,
			Bytes:      len(value),
			Timestamp:  e.now(),
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			logrus.Warnf("Failed to publish refresh of %s: %v", targetURI, err)
		}
	}()
}

// parsePayload decodes JSON text, keeping numbers exact
func parsePayload(data string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &SerializationError{Err: errors.New("trailing data after JSON value")}
	}
	return v, nil
}
