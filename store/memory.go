package store

import (
	"context"
	"sync"
)

// Memory is an in-process store used by tests and the mock CLI mode.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]map[string][]byte
	blobs map[string]Blob
	opts  options
}

// NewMemory builds an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		docs:  make(map[string]map[string][]byte),
		blobs: make(map[string]Blob),
		opts:  buildOptions(opts),
	}
}

func (m *Memory) GetDocument(_ context.Context, collection, key string) (map[string]any, bool, error) {
	if err := validateKey(collection, key); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	raw, ok := m.docs[collection][key]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *Memory) UpsertDocument(_ context.Context, collection, key string, fields map[string]any) error {
	if err := validateKey(collection, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.docs[collection]
	if !ok {
		bucket = make(map[string][]byte)
		m.docs[collection] = bucket
	}
	merged, err := mergeFields(bucket[key], fields, m.opts.now())
	if err != nil {
		return err
	}
	bucket[key] = merged
	return nil
}

// Count reports how many documents a collection holds.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

// PutBlob stores or replaces the blob under id.
func (m *Memory) PutBlob(_ context.Context, id string, data []byte, metadata map[string]string) error {
	if err := validateKey(blobCollection, id); err != nil {
		return err
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	buf := append([]byte(nil), data...)
	m.mu.Lock()
	m.blobs[id] = Blob{ID: id, Data: buf, Metadata: meta}
	m.mu.Unlock()
	return nil
}

// BlobCount reports how many blobs are stored.
func (m *Memory) BlobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

func (m *Memory) GetBlob(_ context.Context, id string) (Blob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[id]
	return blob, ok, nil
}

func (m *Memory) Close() error {
	return nil
}
