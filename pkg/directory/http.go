package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

const (
	defaultUserAgent = "ihe-gateway-directory/1.0"
	maxEntrySize     = 1 << 20
)

// HTTPConfig contains configuration for the HTTP directory client
type HTTPConfig struct {
	// BaseURL is the directory service root. Entries are read from
	// <BaseURL>/<home community id>.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional)
	// If nil, a default client with 30s timeout is used
	HTTPClient *http.Client

	// UserAgent is the User-Agent header to send
	UserAgent string

	// CacheTTL keeps successful lookups for this long. Zero disables
	// caching.
	CacheTTL time.Duration
}

type cached struct {
	entry   Entry
	expires time.Time
}

// HTTPDirectory reads entries from a remote directory service
type HTTPDirectory struct {
	config     HTTPConfig
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cached
	now   func() time.Time
}

// NewHTTPDirectory creates a directory client
func NewHTTPDirectory(config HTTPConfig) *HTTPDirectory {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	return &HTTPDirectory{
		config:     config,
		httpClient: client,
		cache:      make(map[string]cached),
		now:        time.Now,
	}
}

// Lookup implements Directory
func (d *HTTPDirectory) Lookup(ctx context.Context, homeCommunityID string) (*Entry, error) {
	id := ihe.NormalizeOID(homeCommunityID)

	if e, ok := d.fromCache(id); ok {
		return e, nil
	}

	body, err := d.doRequest(ctx, d.entryURL(id))
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse directory entry for %s: %w", id, err)
	}
	if entry.HomeCommunityID == "" {
		entry.HomeCommunityID = id
	}
	entry.HomeCommunityID = ihe.NormalizeOID(entry.HomeCommunityID)

	d.store(id, entry)
	return &entry, nil
}

func (d *HTTPDirectory) entryURL(id string) string {
	base := strings.TrimRight(d.config.BaseURL, "/")
	return fmt.Sprintf("%s/%s", base, url.PathEscape(id))
}

func (d *HTTPDirectory) fromCache(id string) (*Entry, bool) {
	if d.config.CacheTTL <= 0 {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.cache[id]
	if !ok || d.now().After(c.expires) {
		delete(d.cache, id)
		return nil, false
	}
	e := c.entry
	return &e, true
}

func (d *HTTPDirectory) store(id string, e Entry) {
	if d.config.CacheTTL <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[id] = cached{entry: e, expires: d.now().Add(d.config.CacheTTL)}
}

func (d *HTTPDirectory) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, reqURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
