package tests

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/podcast-proxy/internal/cache"
	"github.com/iTrooz/podcast-proxy/internal/config"
	"github.com/iTrooz/podcast-proxy/internal/fetcher"
	"github.com/iTrooz/podcast-proxy/internal/proxy"
)

const searchResponse = `{"resultCount":1,"results":[{"collectionId":917918570,"collectionName":"Serial","feedUrl":"%s/feed.xml"}]}`

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Serial</title>
    <itunes:image href="https://example.com/cover.jpg"/>
    <description><![CDATA[Revision %d. <a href="https://serialpodcast.org">Site</a><script>alert(1)</script>]]></description>
    <item><title>Episode 1</title></item>
    <item><title>Episode 2</title></item>
  </channel>
</rss>`

// upstream is a fake search API and feed host recording the requests it gets
type upstream struct {
	*httptest.Server

	mutex    sync.Mutex
	requests []string
	revision int
}

// Requests returns the request URIs received so far
func (u *upstream) Requests() []string {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return append([]string(nil), u.requests...)
}

// fixture_upstream creates a test upstream server
func fixture_upstream(t *testing.T) *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.mutex.Lock()
		u.requests = append(u.requests, requ.URL.RequestURI())
		u.revision++
		revision := u.revision
		u.mutex.Unlock()

		switch requ.URL.Path {
		case "/search":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, searchResponse, u.URL)
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, feedTemplate, revision)
		default:
			http.NotFound(w, requ)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

// fixture_config creates a test config storing records on disk under tempDir
func fixture_config(upstreamURL, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Store.Driver = "disk"
	cfg.Store.Disk.Folder = tempDir
	cfg.Upstream.SearchEndpoint = upstreamURL + "/search?media=podcast&term="
	return &cfg
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	c.mutex.Unlock()
}

// fixture_server creates the web service backed by a disk store driven by clock
func fixture_server(t *testing.T, cfg *config.Config, clock *fakeClock) (*httptest.Server, *fetcher.Engine, cache.Store) {
	store := cache.NewDisk(cfg.Store.Disk.Folder, cache.WithClock(clock.Now))
	engine := fetcher.New(store,
		fetcher.WithClock(clock.Now),
		fetcher.WithSearchEndpoint(cfg.Upstream.SearchEndpoint),
	)

	server, err := proxy.New(cfg, engine)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	testServer := httptest.NewServer(server.Handler())
	t.Cleanup(testServer.Close)
	t.Cleanup(engine.Flush)
	return testServer, engine, store
}

// countRecords returns the number of records the disk store holds in collection
func countRecords(t *testing.T, dir, collection string) int {
	entries, err := os.ReadDir(filepath.Join(dir, collection))
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("Failed to read %s records: %v", collection, err)
	}
	return len(entries)
}
