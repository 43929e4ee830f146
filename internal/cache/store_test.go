package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type storeFactory struct {
	name      string
	new       func(t *testing.T, clock *fakeClock) Store
	unknownID string
	// disk stores key files by URI, so a second insert replaces the first
	keepsDuplicates bool
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T, clock *fakeClock) Store {
				return NewMemory(WithClock(clock.Now))
			},
			unknownID:       "00000000-0000-0000-0000-000000000000",
			keepsDuplicates: true,
		},
		{
			name: "disk",
			new: func(t *testing.T, clock *fakeClock) Store {
				return NewDisk(t.TempDir(), WithClock(clock.Now))
			},
			unknownID: "deadbeef",
		},
		{
			name: "sqlite",
			new: func(t *testing.T, clock *fakeClock) Store {
				store, err := NewSQLite(filepath.Join(t.TempDir(), "cache.sqlite3"), WithClock(clock.Now))
				require.NoError(t, err)
				t.Cleanup(func() { _ = store.Close(context.Background()) })
				return store
			},
			unknownID:       "00000000-0000-0000-0000-000000000000",
			keepsDuplicates: true,
		},
		{
			name: "redis",
			new: func(t *testing.T, clock *fakeClock) Store {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = client.Close() })
				return NewRedis(client, "test", WithClock(clock.Now))
			},
			unknownID:       "00000000-0000-0000-0000-000000000000",
			keepsDuplicates: true,
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	const uri = "https://itunes.apple.com/search?media=podcast&term=serial"

	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			store := f.new(t, clock)
			require.NoError(t, store.Init(ctx, CollectionQueries, CollectionFeeds))

			t.Run("lookup on empty collection", func(t *testing.T) {
				rec, err := store.Lookup(ctx, CollectionQueries, uri)
				require.NoError(t, err)
				assert.Nil(t, rec)
			})

			var id string
			t.Run("insert assigns id and timestamp", func(t *testing.T) {
				var err error
				id, err = store.Insert(ctx, CollectionQueries, Record{
					ID:         "ignored",
					RequestURI: uri,
					Timestamp:  1,
					Data:       `{"resultCount":0}`,
				})
				require.NoError(t, err)
				require.NotEmpty(t, id)
				assert.NotEqual(t, "ignored", id)

				rec, err := store.Lookup(ctx, CollectionQueries, uri)
				require.NoError(t, err)
				require.NotNil(t, rec)
				assert.Equal(t, id, rec.ID)
				assert.Equal(t, uri, rec.RequestURI)
				assert.Equal(t, `{"resultCount":0}`, rec.Data)
				assert.Equal(t, clock.Now().UnixMilli(), rec.Timestamp)
			})

			t.Run("collections are independent", func(t *testing.T) {
				rec, err := store.Lookup(ctx, CollectionFeeds, uri)
				require.NoError(t, err)
				assert.Nil(t, rec)
			})

			t.Run("update keeps id and refreshes timestamp", func(t *testing.T) {
				clock.Advance(25 * time.Hour)
				err := store.Update(ctx, CollectionQueries, id, Record{
					RequestURI: uri,
					Data:       `{"resultCount":1}`,
				})
				require.NoError(t, err)

				rec, err := store.Lookup(ctx, CollectionQueries, uri)
				require.NoError(t, err)
				require.NotNil(t, rec)
				assert.Equal(t, id, rec.ID)
				assert.Equal(t, `{"resultCount":1}`, rec.Data)
				assert.Equal(t, clock.Now().UnixMilli(), rec.Timestamp)
			})

			t.Run("update of unknown id", func(t *testing.T) {
				err := store.Update(ctx, CollectionQueries, f.unknownID, Record{RequestURI: uri, Data: "{}"})
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("invalid collection", func(t *testing.T) {
				_, err := store.Insert(ctx, "../etc", Record{RequestURI: uri, Data: "{}"})
				assert.ErrorIs(t, err, ErrInvalidCollection)
			})

			t.Run("duplicate insert", func(t *testing.T) {
				const dup = "https://example.com/feed.xml"
				first, err := store.Insert(ctx, CollectionFeeds, Record{RequestURI: dup, Data: `"first"`})
				require.NoError(t, err)
				_, err = store.Insert(ctx, CollectionFeeds, Record{RequestURI: dup, Data: `"second"`})
				require.NoError(t, err)

				rec, err := store.Lookup(ctx, CollectionFeeds, dup)
				require.NoError(t, err)
				require.NotNil(t, rec)
				if f.keepsDuplicates {
					assert.Equal(t, first, rec.ID)
					assert.Equal(t, `"first"`, rec.Data)
				} else {
					assert.Equal(t, `"second"`, rec.Data)
				}
			})

			require.NoError(t, store.Close(ctx))
		})
	}
}

func TestRecordAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{Timestamp: now.Add(-10 * time.Minute).UnixMilli()}

	assert.Equal(t, 10*time.Minute, rec.Age(now))
	assert.True(t, rec.Time().Equal(now.Add(-10*time.Minute)))
}

func TestMemoryLen(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	assert.Equal(t, 0, store.Len(CollectionFeeds))
	_, err := store.Insert(ctx, CollectionFeeds, Record{RequestURI: "a", Data: "{}"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, CollectionFeeds, Record{RequestURI: "b", Data: "{}"})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len(CollectionFeeds))
	assert.Equal(t, 0, store.Len(CollectionQueries))
}

func TestSQLiteInMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLite("")
	require.NoError(t, err)
	defer store.Close(ctx)

	require.NoError(t, store.Init(ctx, CollectionFeeds))
	id, err := store.Insert(ctx, CollectionFeeds, Record{RequestURI: "https://example.com/rss", Data: "{}"})
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, CollectionFeeds, "https://example.com/rss")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
}

func TestRedisDanglingIndex(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedis(client, "")

	// Index entry pointing at a record that was evicted
	require.NoError(t, mr.Set("feeds:uri:https://example.com/rss", "gone"))

	rec, err := store.Lookup(ctx, CollectionFeeds, "https://example.com/rss")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// the next insert takes the index over
	id, err := store.Insert(ctx, CollectionFeeds, Record{RequestURI: "https://example.com/rss", Data: `"fresh"`})
	require.NoError(t, err)
	rec, err = store.Lookup(ctx, CollectionFeeds, "https://example.com/rss")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, `"fresh"`, rec.Data)

	// and keeps it once its record is live
	_, err = store.Insert(ctx, CollectionFeeds, Record{RequestURI: "https://example.com/rss", Data: `"later"`})
	require.NoError(t, err)
	rec, err = store.Lookup(ctx, CollectionFeeds, "https://example.com/rss")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
}
