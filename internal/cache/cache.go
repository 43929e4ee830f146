// Stores upstream responses as timestamped records keyed by request URI
package cache

import (
	"context"
	"errors"
	"regexp"
	"time"
)

const (
	// Collection holding podcast search results
	CollectionQueries = "queries"
	// Collection holding parsed feed documents
	CollectionFeeds = "feeds"
)

// DefaultQueryTimeout bounds every store operation that performs I/O
const DefaultQueryTimeout = 5 * time.Second

// ErrNotFound is returned by Update when no record has the given ID
var ErrNotFound = errors.New("cache: record not found")

// ErrInvalidCollection is returned for collection names that are not plain identifiers
var ErrInvalidCollection = errors.New("cache: invalid collection name")

var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Record is one cached upstream response.
// RequestURI is the natural key of a collection but stores do not enforce its uniqueness.
type Record struct {
	ID         string `json:"id"`
	RequestURI string `json:"requestURI"`
	Timestamp  int64  `json:"timestamp"` // epoch milliseconds, assigned by the store on write
	Data       string `json:"data"`      // JSON text
}

// Time returns the write time of the record
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Age returns how long ago the record was written
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Time())
}

// Store interface for record persistence
type Store interface {
	// Lookup returns the first record of collection whose RequestURI equals requestURI.
	// returns nil, nil when no record matches
	Lookup(ctx context.Context, collection, requestURI string) (*Record, error)
	// Insert adds a new record and returns its ID. rec.ID and rec.Timestamp are ignored.
	Insert(ctx context.Context, collection string, rec Record) (string, error)
	// Update overwrites RequestURI and Data of the record with the given ID and refreshes its timestamp
	Update(ctx context.Context, collection, id string, rec Record) error
	// Init prepares the store for the given collections (directories, tables, indexes)
	Init(ctx context.Context, collections ...string) error
	// Close releases resources owned by the store
	Close(ctx context.Context) error
}

// ValidateCollection rejects names that cannot safely be used as a table, key or directory name
func ValidateCollection(collection string) error {
	if !collectionPattern.MatchString(collection) {
		return ErrInvalidCollection
	}
	return nil
}

type options struct {
	now          func() time.Time
	queryTimeout time.Duration
}

// Option configures a Store implementation
type Option func(*options)

// WithClock sets the clock used to assign record timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithQueryTimeout sets the per-operation timeout of I/O backed stores
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) { o.queryTimeout = d }
}

func applyOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) timestamp() int64 {
	return o.now().UnixMilli()
}

func (o options) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.queryTimeout)
}
