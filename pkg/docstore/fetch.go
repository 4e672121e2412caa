package docstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxDocumentSize = 256 << 20

// Fetcher downloads document payloads from presigned URLs
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. A nil client gets a 60s timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch returns the body and content type found at uri
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("document download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		// expired presigned URLs answer 403
		return nil, "", ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("document download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read document: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
