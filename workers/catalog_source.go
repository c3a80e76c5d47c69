// workers/catalog_source.go
package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"matching-game-service/utils"
)

// CatalogSource yields the raw catalog document.
type CatalogSource interface {
	Fetch(ctx context.Context) ([]byte, error)
	Name() string
}

type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Fetch(_ context.Context) ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

// R2Source reads the catalog object from the content bucket.
type R2Source struct {
	Client *utils.R2Client
	Key    string
}

func (s R2Source) Name() string { return "r2:" + s.Client.Bucket() + "/" + s.Key }

func (s R2Source) Fetch(ctx context.Context) ([]byte, error) {
	return s.Client.GetObject(ctx, s.Key, MaxCatalogBytes)
}

type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Name() string { return s.URL }

func (s HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = utils.HTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", s.URL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("GET %s: status %d: %s", s.URL, resp.StatusCode, body)
	}
	return readLimited(resp.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxCatalogBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxCatalogBytes {
		return nil, fmt.Errorf("catalog document exceeds %d bytes", MaxCatalogBytes)
	}
	return body, nil
}
