package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"brand_hero_content/generator"
	"brand_hero_content/store"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/hero.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/img/big.png":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestArchiverStoresDownloadedImage(t *testing.T) {
	t.Parallel()

	srv := imageServer(t)
	blobs := store.NewMemory()
	a, err := NewArchiver(blobs, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}
	a.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }

	source := srv.URL + "/img/hero.png?sig=abc"
	id, err := a.StoreBlob(context.Background(), source, map[string]string{"company_id": "acme"})
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	if id != BlobID(source) {
		t.Fatalf("expected id derived from the source url, got %s", id)
	}
	data, contentType, err := a.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(data) != "png-bytes" || contentType != "image/png" {
		t.Fatalf("unexpected blob: %q %s", data, contentType)
	}
	blob, _, _ := blobs.GetBlob(context.Background(), id)
	meta := blob.Metadata
	if meta["company_id"] != "acme" || meta["filename"] != "hero.png" || meta["date_created"] != "2025-05-01T00:00:00Z" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !strings.HasPrefix(meta["source_url"], srv.URL) {
		t.Fatalf("source_url missing: %+v", meta)
	}
}

func TestArchiverErrors(t *testing.T) {
	t.Parallel()

	srv := imageServer(t)
	a, _ := NewArchiver(store.NewMemory(), srv.Client(), nil)
	ctx := context.Background()

	if _, err := a.StoreBlob(ctx, srv.URL+"/img/missing.png", nil); !errors.Is(err, generator.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable for 404, got %v", err)
	}
	if _, err := a.StoreBlob(ctx, "", nil); !errors.Is(err, generator.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty url, got %v", err)
	}
	a.maxBytes = 16
	if _, err := a.StoreBlob(ctx, srv.URL+"/img/big.png", nil); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
	if _, _, err := a.Open(ctx, "nope"); !errors.Is(err, generator.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveImageIsIdempotent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	blobs := store.NewMemory()
	a, _ := NewArchiver(blobs, srv.Client(), nil)
	ctx := context.Background()
	source := srv.URL + "/img/hero.png"

	first, err := a.ArchiveImage(ctx, source, nil)
	if err != nil {
		t.Fatalf("ArchiveImage: %v", err)
	}
	if first != ImagePath(BlobID(source)) {
		t.Fatalf("expected content-derived route, got %q", first)
	}
	second, err := a.ArchiveImage(ctx, source, nil)
	if err != nil || second != first {
		t.Fatalf("second archive: %q %v", second, err)
	}
	if n := blobs.BlobCount(); n != 1 {
		t.Fatalf("expected one blob, got %d", n)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected a single download, got %d", n)
	}

	same, err := a.ArchiveImage(ctx, first, nil)
	if err != nil || same != first {
		t.Fatalf("archived route should pass through, got %q %v", same, err)
	}
	if _, err := a.ArchiveImage(ctx, srv.URL+"/img/other.png", nil); err != nil {
		t.Fatalf("ArchiveImage other: %v", err)
	}
	if n := blobs.BlobCount(); n != 2 {
		t.Fatalf("expected a second blob for a new url, got %d", n)
	}
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://cdn.example/a/b/hero.png?x=1": "hero.png",
		"https://cdn.example/":                 "image.jpg",
		"hero":                                 "image.jpg",
	}
	for in, want := range cases {
		if got := filenameFromURL(in); got != want {
			t.Fatalf("filenameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}
