// Package media loads the bytes behind a MediaReference from a URL or a local path.
package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"uk.co.dudmesh.herald/internal/model"
)

type Asset struct {
	Name        string
	ContentType string
	Type        model.MediaType
	Data        []byte
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch returns the referenced media. Failures are classified: a missing or
// oversized file is a validation error, a network or upstream failure is
// transient.
func (f *Fetcher) Fetch(ctx context.Context, ref model.MediaReference) (*Asset, error) {
	var data []byte
	var err error

	if isRemote(ref.URL) {
		data, err = f.fetchRemote(ctx, ref.URL)
	} else {
		data, err = f.readLocal(ref.URL)
	}
	if err != nil {
		return nil, err
	}

	detected := mimetype.Detect(data)
	return &Asset{
		Name:        nameFor(ref.URL, detected.Extension()),
		ContentType: detected.String(),
		Type:        ref.Type,
		Data:        data,
	}, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.Validationf("invalid media url %q: %v", rawURL, err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, model.Transientf("fetching media %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return nil, model.Transientf("fetching media %s: status %d", rawURL, res.StatusCode)
	case res.StatusCode >= 400:
		return nil, model.Validationf("fetching media %s: status %d", rawURL, res.StatusCode)
	}

	if res.ContentLength > f.maxBytes {
		return nil, model.Validationf("media %s is %d bytes, limit is %d", rawURL, res.ContentLength, f.maxBytes)
	}
	return f.readLimited(res.Body, rawURL)
}

func (f *Fetcher) readLocal(name string) ([]byte, error) {
	file, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.Validationf("media file %s not found", name)
		}
		return nil, model.Transientf("opening media file %s: %w", name, err)
	}
	defer file.Close()

	return f.readLimited(file, name)
}

func (f *Fetcher) readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, model.Transientf("reading media %s: %w", name, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, model.Validationf("media %s exceeds the %d byte limit", name, f.maxBytes)
	}
	if len(data) == 0 {
		return nil, model.Validationf("media %s is empty", name)
	}
	return data, nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func nameFor(ref, ext string) string {
	var base string
	if isRemote(ref) {
		if u, err := url.Parse(ref); err == nil {
			base = path.Base(u.Path)
		}
	} else {
		base = filepath.Base(ref)
	}

	if base == "" || base == "." || base == "/" {
		base = "media"
	}
	if path.Ext(base) == "" {
		base += ext
	}
	return base
}
