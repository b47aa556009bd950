package imagefile

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/face-gateway/internal/faceerr"
)

var samplePNG = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R', 0xff}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	return len(entries)
}

func TestFromBase64RoundTrip(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(samplePNG)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "plain", payload: encoded},
		{name: "data url", payload: "data:image/png;base64," + encoded},
		{name: "comma inside header", payload: "data:image/jpeg;name=a,b;base64," + encoded},
		{name: "wrapped lines", payload: encoded[:8] + "\n" + encoded[8:]},
		{name: "missing padding", payload: strings.TrimRight(encoded, "=")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir, nil, 0)

			path, err := store.FromBase64(tt.payload, DefaultExt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if filepath.Dir(path) != dir {
				t.Fatalf("expected file under %s, got %s", dir, path)
			}
			if filepath.Ext(path) != ".jpg" {
				t.Fatalf("unexpected extension: %s", filepath.Ext(path))
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("failed to read file: %v", err)
			}
			if !bytes.Equal(data, samplePNG) {
				t.Fatalf("round trip mismatch: %v", data)
			}
		})
	}
}

func TestFromBase64UniqueNames(t *testing.T) {
	store := NewStore(t.TempDir(), nil, 0)
	payload := base64.StdEncoding.EncodeToString([]byte("same"))

	first, err := store.FromBase64(payload, ".jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.FromBase64(payload, ".jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths, got %s twice", first)
	}
}

func TestFromBase64RejectsMalformedInput(t *testing.T) {
	for _, payload := range []string{"not base64!!", "data:image/png;base64,", "", "@@@@"} {
		t.Run(payload, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir, nil, 0)

			path, err := store.FromBase64(payload, DefaultExt)
			if err == nil {
				t.Fatalf("expected error, got path %s", path)
			}
			if path != "" {
				t.Fatalf("expected empty path, got %s", path)
			}
			if faceerr.KindOf(err) != faceerr.KindDecode {
				t.Fatalf("expected decode kind, got %v", faceerr.KindOf(err))
			}
			if !strings.Contains(err.Error(), "failed to decode base64 image") {
				t.Fatalf("unexpected message: %s", err.Error())
			}
			if n := countFiles(t, dir); n != 0 {
				t.Fatalf("expected no files, found %d", n)
			}
		})
	}
}

func TestFromBase64WriteFailureHasDistinctMessage(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), nil, 0)

	_, err := store.FromBase64(base64.StdEncoding.EncodeToString(samplePNG), DefaultExt)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if faceerr.KindOf(err) != faceerr.KindDecode {
		t.Fatalf("expected decode kind for write failure, got %v", faceerr.KindOf(err))
	}
	if !strings.HasPrefix(err.Error(), "failed to store decoded image") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected filesystem cause in chain, got %v", err)
	}
}

func TestFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/face.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(samplePNG)
		case "/face.bin":
			w.Header().Set("Content-Type", "image/x-unheard-of")
			_, _ = w.Write(samplePNG)
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html></html>"))
		case "/big.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	t.Run("png keeps extension", func(t *testing.T) {
		store := NewStore(t.TempDir(), server.Client(), 32)
		path, err := store.FromURL(context.Background(), server.URL+"/face.png")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filepath.Ext(path) != ".png" {
			t.Fatalf("unexpected extension: %s", filepath.Ext(path))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if !bytes.Equal(data, samplePNG) {
			t.Fatalf("unexpected body: %v", data)
		}
	})

	t.Run("unknown image type falls back to jpg", func(t *testing.T) {
		store := NewStore(t.TempDir(), server.Client(), 0)
		path, err := store.FromURL(context.Background(), server.URL+"/face.bin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filepath.Ext(path) != ".jpg" {
			t.Fatalf("unexpected extension: %s", filepath.Ext(path))
		}
	})

	failures := map[string]string{
		"non image":   server.URL + "/page",
		"not found":   server.URL + "/missing",
		"too large":   server.URL + "/big.png",
		"bad scheme":  "file:///etc/passwd",
		"not a url":   "not a url",
		"invalid url": "http://[::1",
	}
	for name, target := range failures {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir, server.Client(), 32)

			_, err := store.FromURL(context.Background(), target)
			if faceerr.KindOf(err) != faceerr.KindFetch {
				t.Fatalf("expected fetch kind, got %v (%v)", faceerr.KindOf(err), err)
			}
			if n := countFiles(t, dir); n != 0 {
				t.Fatalf("expected no files, found %d", n)
			}
		})
	}
}

func TestFromURLHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	store := NewStore(t.TempDir(), server.Client(), 0)
	_, err := store.FromURL(ctx, server.URL)
	if faceerr.KindOf(err) != faceerr.KindFetch {
		t.Fatalf("expected fetch kind, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/png":       ".png",
		"image/jpeg":      ".jpg",
		"image/webp; q=1": ".webp",
		"":                ".jpg",
		"image/x-nothing": ".jpg",
	}
	for contentType, want := range tests {
		if got := ExtensionFor(contentType); got != want {
			t.Fatalf("ExtensionFor(%q) = %s, want %s", contentType, got, want)
		}
	}
}

func TestScopeCloseRemovesEveryFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, 0)
	scope := store.NewScope()
	payload := base64.StdEncoding.EncodeToString(samplePNG)

	if _, err := scope.FromBase64(payload, DefaultExt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := scope.FromBase64(payload, DefaultExt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := scope.FromBase64("%%%", DefaultExt); err == nil {
		t.Fatal("expected decode error")
	}
	if n := countFiles(t, dir); n != 2 {
		t.Fatalf("expected 2 files, found %d", n)
	}

	if err := scope.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("expected files to be removed, found %d", n)
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
}
