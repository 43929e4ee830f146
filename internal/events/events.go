// Package events announces cache refreshes to other services.
package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	OperationInsert = "insert"
	OperationUpdate = "update"
)

// CacheRefresh is published after a record was written with fresh upstream data
type CacheRefresh struct {
	Collection string    `json:"collection"`
	RequestURI string    `json:"requestURI"`
	RecordID   string    `json:"recordId"`
	Operation  string    `json:"operation"`
	Bytes      int       `json:"bytes"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Version    string    `json:"version"`
}

// Publisher sends CacheRefresh events
type Publisher interface {
	Publish(ctx context.Context, event CacheRefresh) error
	Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CacheRefresh) error { return nil }
func (NopPublisher) Close()                                      {}

func encode(event CacheRefresh) ([]byte, error) {
	if event.Source == "" {
		event.Source = "podcast-proxy"
	}
	if event.Version == "" {
		event.Version = "1.0"
	}
	return json.Marshal(event)
}
