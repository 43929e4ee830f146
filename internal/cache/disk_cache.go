package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DiskStore keeps one JSON file per request URI: <folder>/<collection>/<sha256(uri)>.json
// Inserting a URI that already has a file replaces it.
type DiskStore struct {
	cacheDir string
	opts     options
}

var _ Store = (*DiskStore)(nil)

// NewDisk creates a new disk store rooted at cacheDir
func NewDisk(cacheDir string, opts ...Option) *DiskStore {
	return &DiskStore{
		cacheDir: cacheDir,
		opts:     applyOptions(opts),
	}
}

// key derives the record ID, which is also the file name, from the request URI
func (d *DiskStore) key(requestURI string) string {
	hash := sha256.Sum256([]byte(requestURI))
	return hex.EncodeToString(hash[:])
}

func (d *DiskStore) path(collection, id string) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	if _, err := hex.DecodeString(id); err != nil || id == "" {
		return "", fmt.Errorf("cache: invalid disk record id %q", id)
	}
	return filepath.Join(d.cacheDir, collection, id+".json"), nil
}

// Lookup reads the record file of requestURI if it exists
func (d *DiskStore) Lookup(_ context.Context, collection, requestURI string) (*Record, error) {
	cachePath, err := d.path(collection, d.key(requestURI))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding cache file %s: %w", cachePath, err)
	}
	if rec.RequestURI != requestURI {
		// sha256 collision or a hand edited file, either way not ours
		logrus.Warnf("Cache file %s holds %s, expected %s", cachePath, rec.RequestURI, requestURI)
		return nil, nil
	}
	return &rec, nil
}

// Insert writes a new record file
func (d *DiskStore) Insert(_ context.Context, collection string, rec Record) (string, error) {
	rec.ID = d.key(rec.RequestURI)
	if err := d.write(collection, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Update rewrites the record file with the given ID
func (d *DiskStore) Update(_ context.Context, collection, id string, rec Record) error {
	cachePath, err := d.path(collection, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cachePath); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	rec.ID = id
	return d.write(collection, rec)
}

func (d *DiskStore) write(collection string, rec Record) error {
	cachePath, err := d.path(collection, rec.ID)
	if err != nil {
		return err
	}
	rec.Timestamp = d.opts.timestamp()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write next to the target then rename, so readers never see a partial file
	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached record: %s", cachePath)
	return nil
}

// Init ensures the collection directories exist
func (d *DiskStore) Init(_ context.Context, collections ...string) error {
	for _, c := range collections {
		if err := ValidateCollection(c); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(d.cacheDir, c), 0755); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStore) Close(_ context.Context) error {
	return nil
}
