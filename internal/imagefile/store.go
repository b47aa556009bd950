// Package imagefile turns request payloads into temporary image files that the
// face-recognition backend can read, and removes them again.
package imagefile

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/face-gateway/internal/faceerr"
)

// DefaultExt is used for base64 payloads and for fetched images whose content
// type has no known extension.
const DefaultExt = ".jpg"

const filePattern = "face-*"

// ErrEmptyPayload is returned for payloads with nothing left to decode.
var ErrEmptyPayload = errors.New("empty image payload")

// Store creates image files under a single directory.
type Store struct {
	dir           string
	httpClient    *http.Client
	maxFetchBytes int64
}

// NewStore builds a store writing to dir (os.TempDir when empty). maxFetchBytes
// caps downloaded bodies; zero disables the cap.
func NewStore(dir string, httpClient *http.Client, maxFetchBytes int64) *Store {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Store{dir: dir, httpClient: httpClient, maxFetchBytes: maxFetchBytes}
}

// Dir is where files are created.
func (s *Store) Dir() string {
	if s.dir == "" {
		return os.TempDir()
	}
	return s.dir
}

// FromBase64 decodes payload into a new file with the given extension and
// returns its path. A data-URL header (anything up to the last comma) is
// dropped first. The bytes are not checked to be an image.
func (s *Store) FromBase64(payload, ext string) (string, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return "", faceerr.Decode(err)
	}
	path, err := s.write(data, ext)
	if err != nil {
		return "", faceerr.Wrap(faceerr.KindDecode, "failed to store decoded image: "+err.Error(), err)
	}
	return path, nil
}

// FromURL downloads an image and stores it with an extension derived from
// the response content type.
func (s *Store) FromURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", faceerr.Fetch(err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", faceerr.Fetch(fmt.Errorf("unsupported url scheme %q", parsed.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", faceerr.Fetch(err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", faceerr.Fetch(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", faceerr.Fetch(fmt.Errorf("unexpected status %s", resp.Status))
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", faceerr.Fetch(fmt.Errorf("url does not point to an image (content type %q)", contentType))
	}

	var body io.Reader = resp.Body
	if s.maxFetchBytes > 0 {
		body = io.LimitReader(resp.Body, s.maxFetchBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", faceerr.Fetch(err)
	}
	if s.maxFetchBytes > 0 && int64(len(data)) > s.maxFetchBytes {
		return "", faceerr.Fetch(fmt.Errorf("image exceeds %d bytes", s.maxFetchBytes))
	}

	path, err := s.write(data, ExtensionFor(contentType))
	if err != nil {
		return "", faceerr.Wrap(faceerr.KindFetch, "failed to store fetched image: "+err.Error(), err)
	}
	return path, nil
}

// Remove deletes a file created by the store. Missing files are ignored.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) write(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = DefaultExt
	}
	file, err := os.CreateTemp(s.dir, filePattern+ext)
	if err != nil {
		return "", err
	}
	path := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// DecodeBase64 strips an optional data-URL header and decodes the rest.
// Whitespace is ignored and missing padding is tolerated.
func DecodeBase64(payload string) ([]byte, error) {
	if idx := strings.LastIndex(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if rem := len(payload) % 4; rem != 0 {
		payload += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// ExtensionFor maps a content type such as "image/png; charset=binary" to a
// file extension, falling back to DefaultExt.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DefaultExt
	}
	if known := mimetype.Lookup(mediaType); known != nil && known.Extension() != "" {
		return known.Extension()
	}
	return DefaultExt
}
