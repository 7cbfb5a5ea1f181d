package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	blobDataBucket = []byte("images")
	blobMetaBucket = []byte("images_meta")
)

// Bolt keeps every collection in its own bucket of a single BoltDB file.
type Bolt struct {
	db   *bolt.DB
	opts options
}

// OpenBolt opens (or creates) the database file; the caller owns Close.
func OpenBolt(path string, opts ...Option) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &Bolt{db: db, opts: buildOptions(opts)}, nil
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bolt) GetDocument(_ context.Context, collection, key string) (map[string]any, bool, error) {
	if err := validateKey(collection, key); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (b *Bolt) UpsertDocument(_ context.Context, collection, key string, fields map[string]any) error {
	if err := validateKey(collection, key); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		merged, err := mergeFields(bucket.Get([]byte(key)), fields, b.opts.now())
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), merged)
	})
}

func (b *Bolt) PutBlob(_ context.Context, id string, data []byte, metadata map[string]string) error {
	if err := validateKey(blobCollection, id); err != nil {
		return err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode blob metadata: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		dataBucket, err := tx.CreateBucketIfNotExists(blobDataBucket)
		if err != nil {
			return err
		}
		metaBucket, err := tx.CreateBucketIfNotExists(blobMetaBucket)
		if err != nil {
			return err
		}
		if err := dataBucket.Put([]byte(id), data); err != nil {
			return err
		}
		return metaBucket.Put([]byte(id), meta)
	})
}

func (b *Bolt) GetBlob(_ context.Context, id string) (Blob, bool, error) {
	var blob Blob
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		dataBucket := tx.Bucket(blobDataBucket)
		if dataBucket == nil {
			return nil
		}
		data := dataBucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		blob = Blob{ID: id, Data: append([]byte(nil), data...)}
		if metaBucket := tx.Bucket(blobMetaBucket); metaBucket != nil {
			if raw := metaBucket.Get([]byte(id)); len(raw) > 0 {
				// malformed metadata does not hide the blob itself
				_ = json.Unmarshal(raw, &blob.Metadata)
			}
		}
		return nil
	})
	if err != nil {
		return Blob{}, false, err
	}
	return blob, found, nil
}
