package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iTrooz/podcast-proxy/internal/cache"
	"github.com/iTrooz/podcast-proxy/internal/config"
	"github.com/iTrooz/podcast-proxy/internal/events"
	"github.com/iTrooz/podcast-proxy/internal/fetcher"
	"github.com/iTrooz/podcast-proxy/internal/metrics"
	"github.com/iTrooz/podcast-proxy/internal/proxy"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultConfigPath = "configs/config.yaml"

var version = "dev"

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	if err := setupLogging(cfg.Log); err != nil {
		logrus.Fatalf("Invalid log configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStore(closeCtx); err != nil {
			logrus.Errorf("Failed to close store: %v", err)
		}
	}()

	publisher, err := openPublisher(cfg.NATS)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer publisher.Close()

	engine, err := newEngine(cfg, store, publisher)
	if err != nil {
		return err
	}

	server, err := proxy.New(cfg, engine)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	metrics.Init("podcast-proxy", version, cfg.Store.Driver)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

// openStore connects the configured record store and prepares its collections.
// The returned function releases the connection.
func openStore(ctx context.Context, cfg config.StoreConfig) (cache.Store, func(context.Context) error, error) {
	var (
		store     cache.Store
		closeFunc func(context.Context) error
	)

	switch cfg.Driver {
	case "memory":
		store = cache.NewMemory()

	case "disk":
		store = cache.NewDisk(cfg.Disk.Folder)
		logrus.Infof("Cache directory: %s", cfg.Disk.Folder)

	case "sqlite":
		s, err := cache.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		store = s

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = cache.NewRedis(client, cfg.Redis.Prefix)
		closeFunc = func(context.Context) error { return client.Close() }

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		logrus.Info("Connected to MongoDB successfully")
		store = cache.NewMongo(client.Database(cfg.Mongo.Database))
		closeFunc = client.Disconnect

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if closeFunc == nil {
		closeFunc = store.Close
	}

	if err := store.Init(ctx, cache.CollectionQueries, cache.CollectionFeeds); err != nil {
		_ = closeFunc(context.Background())
		return nil, nil, err
	}
	return store, closeFunc, nil
}

func openPublisher(cfg config.NATSConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewNATSPublisher(&events.NATSConfig{URL: cfg.URL, Subject: cfg.Subject})
	if err != nil {
		return nil, err
	}
	logrus.Infof("Publishing cache refreshes to NATS subject %s", cfg.Subject)
	return publisher, nil
}

func newEngine(cfg *config.Config, store cache.Store, publisher events.Publisher) (*fetcher.Engine, error) {
	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}
	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	timeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}
	if ttl <= 0 {
		return nil, errors.New("cache TTL must be positive")
	}

	client, err := fetcher.NewHTTPClient(timeout, cfg.Upstream.ProxyURL)
	if err != nil {
		return nil, err
	}

	return fetcher.New(store,
		fetcher.WithTTL(ttl),
		fetcher.WithWriteTimeout(writeTimeout),
		fetcher.WithHTTPClient(client),
		fetcher.WithUserAgent(cfg.Upstream.UserAgent),
		fetcher.WithSearchEndpoint(cfg.Upstream.SearchEndpoint),
		fetcher.WithPublisher(publisher),
	), nil
}
