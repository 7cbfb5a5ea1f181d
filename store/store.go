// Package store holds the keyed document and blob stores behind the generator's
// persistence interfaces. Every backend applies upserts as a field-level merge, so
// writing a subset of fields never erases the others.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

// Logical collections shared by every backend.
const (
	CollectionCompanyContext   = "company_context"
	CollectionBrandHeroContext = "brand_hero_context"
	CollectionStrategies       = "strategies"
	CollectionConversations    = "conversations"
	CollectionPosts            = "posts"
	CollectionCompanyInitial   = "company_initial"
)

// blobCollection names blobs in validation errors.
const blobCollection = "images"

// UpdatedAtField is stamped on every upsert.
const UpdatedAtField = "updated_at"

// Option customizes a store during construction.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for updated_at stamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.now = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// mergeFields applies fields onto an existing JSON document ($set semantics).
func mergeFields(existing []byte, fields map[string]any, now time.Time) ([]byte, error) {
	if len(existing) == 0 {
		existing = []byte("{}")
	}
	out := existing
	var err error
	for key, value := range fields {
		out, err = sjson.SetBytes(out, escapePath(key), value)
		if err != nil {
			return nil, fmt.Errorf("set field %s: %w", key, err)
		}
	}
	out, err = sjson.SetBytes(out, UpdatedAtField, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", UpdatedAtField, err)
	}
	return out, nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

func validateKey(collection, key string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("store: collection is required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("store: key is required for %s", collection)
	}
	return nil
}

// Blob is a stored binary object with its metadata. Blob ids are chosen by the
// caller and PutBlob replaces an existing blob with the same id.
type Blob struct {
	ID       string            `json:"id"`
	Data     []byte            `json:"-"`
	Metadata map[string]string `json:"metadata"`
}
