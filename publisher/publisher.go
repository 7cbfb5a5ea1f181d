package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"brand_hero_content/generator"
	"brand_hero_content/logging"
	"brand_hero_content/store"
)

const (
	defaultContentType = "image/jpeg"
	defaultMaxBytes    = 20 << 20
	imageRoute         = "/api/images/"
)

// BlobStore is the blob half of the store backends.
type BlobStore interface {
	PutBlob(ctx context.Context, id string, data []byte, metadata map[string]string) error
	GetBlob(ctx context.Context, id string) (store.Blob, bool, error)
}

// Archiver downloads generated images and keeps them in the blob store, since
// generator URLs expire.
type Archiver struct {
	blobs    BlobStore
	client   *http.Client
	logger   *slog.Logger
	maxBytes int64
	now      func() time.Time
}

var (
	_ generator.BlobArchiver  = (*Archiver)(nil)
	_ generator.ImageArchiver = (*Archiver)(nil)
)

// NewArchiver creates an Archiver; a nil client gets a 60s timeout client.
func NewArchiver(blobs BlobStore, client *http.Client, logger *slog.Logger) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Archiver{blobs: blobs, client: client, logger: logger, maxBytes: defaultMaxBytes, now: time.Now}, nil
}

// BlobID is the blob id of an image downloaded from sourceURL.
func BlobID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

// StoreBlob downloads sourceURL and stores it with source_url, date_created,
// content_type and filename metadata merged over the caller's. A URL that was
// already archived is not fetched again.
func (a *Archiver) StoreBlob(ctx context.Context, sourceURL string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("%w: source url is required", generator.ErrValidation)
	}
	id := BlobID(sourceURL)
	if _, ok, err := a.blobs.GetBlob(ctx, id); err != nil {
		return "", fmt.Errorf("%w: look up blob: %w", generator.ErrPersistence, err)
	} else if ok {
		a.logger.Debug("image already archived", "blob_id", id)
		return id, nil
	}

	data, contentType, err := a.download(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("%w: download %s: %w", generator.ErrUpstreamUnavailable, sourceURL, err)
	}
	meta := make(map[string]string, len(metadata)+4)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["source_url"] = sourceURL
	meta["date_created"] = a.now().UTC().Format(time.RFC3339)
	meta["content_type"] = contentType
	meta["filename"] = filenameFromURL(sourceURL)

	if err := a.blobs.PutBlob(ctx, id, data, meta); err != nil {
		return "", fmt.Errorf("%w: store blob: %w", generator.ErrPersistence, err)
	}
	a.logger.Info("archived image", "blob_id", id, "bytes", len(data), "content_type", contentType)
	return id, nil
}

// ArchiveImage stores the image behind sourceURL and returns the route that
// serves it. Routes of this server are returned unchanged.
func (a *Archiver) ArchiveImage(ctx context.Context, sourceURL string, metadata map[string]string) (string, error) {
	if strings.HasPrefix(sourceURL, imageRoute) {
		return sourceURL, nil
	}
	id, err := a.StoreBlob(ctx, sourceURL, metadata)
	if err != nil {
		return "", err
	}
	return ImagePath(id), nil
}

// Open returns a stored blob and its content type.
func (a *Archiver) Open(ctx context.Context, id string) ([]byte, string, error) {
	blob, ok, err := a.blobs.GetBlob(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("%w: load blob: %w", generator.ErrPersistence, err)
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: image %s", generator.ErrNotFound, id)
	}
	contentType := blob.Metadata["content_type"]
	if contentType == "" {
		contentType = defaultContentType
	}
	return blob.Data, contentType, nil
}

func (a *Archiver) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > a.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", a.maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return data, contentType, nil
}

func filenameFromURL(raw string) string {
	trimmed := raw
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	name := path.Base(trimmed)
	if name == "." || name == "/" || name == "" || !strings.Contains(trimmed, "/") {
		return "image.jpg"
	}
	return name
}

// ImagePath is the server route that serves an archived image.
func ImagePath(id string) string {
	return imageRoute + id
}
