package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiskKey(t *testing.T) {
	store := NewDisk("/tmp/cache")

	tests := []struct {
		name       string
		requestURI string
		want       string
	}{
		{
			name:       "empty URI",
			requestURI: "",
			want:       "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:       "short URI",
			requestURI: "abc",
			want:       "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.key(tt.requestURI)
			if got != tt.want {
				t.Errorf("key() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiskInsertWritesFile(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)
	ctx := context.Background()

	// Test data
	uri := "https://example.com/feed.xml"
	id, err := store.Insert(ctx, CollectionFeeds, Record{RequestURI: uri, Data: `{"title":"x"}`})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Verify file exists at the correct location
	expectedPath := filepath.Join(tempDir, CollectionFeeds, id+".json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Cache file was not created at %s", expectedPath)
	}

	// No temporary files left behind
	entries, err := os.ReadDir(filepath.Join(tempDir, CollectionFeeds))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 file in collection directory, got %d", len(entries))
	}
}

func TestDiskLookupCorruptFile(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)
	ctx := context.Background()

	uri := "https://example.com/feed.xml"
	dir := filepath.Join(tempDir, CollectionFeeds)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, store.key(uri)+".json"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Lookup(ctx, CollectionFeeds, uri); err == nil {
		t.Errorf("Lookup() expected error for corrupt file")
	}
}

func TestDiskInit(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	store := NewDisk(cacheDir)

	err := store.Init(context.Background(), CollectionQueries, CollectionFeeds)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Verify directories were created
	for _, c := range []string{CollectionQueries, CollectionFeeds} {
		if _, err := os.Stat(filepath.Join(cacheDir, c)); os.IsNotExist(err) {
			t.Fatalf("Collection directory %s was not created", c)
		}
	}
}
