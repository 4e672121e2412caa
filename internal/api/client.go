// Package api is the client for the internal API that owns the gateway's
// business logic. Inbound requests are delegated to it and outbound results
// are handed to it once collected.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

const maxResponseSize = 256 << 20

// Config holds the internal API settings
type Config struct {
	// BaseURL is the API root, without the /internal/carequality suffix
	BaseURL string

	// HTTPClient is optional; the default has a 60s timeout
	HTTPClient *http.Client
}

// Client calls the internal API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// StatusError is returned when the API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("internal API returned status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a client for cfg
func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
	}
}

// ResultBatch is the hand-off of every result collected for one request
type ResultBatch struct {
	RequestID string            `json:"requestId"`
	PatientID string            `json:"patientId"`
	CxID      string            `json:"cxId"`
	Results   []json.RawMessage `json:"results"`
}

// PostResults hands a request's results to the API
func (c *Client) PostResults(ctx context.Context, tx ihe.TransactionType, batch ResultBatch) error {
	if batch.Results == nil {
		batch.Results = []json.RawMessage{}
	}
	return c.post(ctx, c.path(tx, "results"), batch, nil)
}

// PatientDiscovery asks the API whether the patient in req is known
func (c *Client) PatientDiscovery(ctx context.Context, req *ihe.InboundPatientDiscoveryRequest) (*ihe.InboundPatientDiscoveryResponse, error) {
	var resp ihe.InboundPatientDiscoveryResponse
	if err := c.post(ctx, c.path(ihe.PatientDiscovery, "inbound"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DocumentQuery asks the API for the documents matching req
func (c *Client) DocumentQuery(ctx context.Context, req *ihe.InboundDocumentQueryRequest) (*ihe.InboundDocumentQueryResponse, error) {
	var resp ihe.InboundDocumentQueryResponse
	if err := c.post(ctx, c.path(ihe.DocumentQuery, "inbound"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DocumentRetrieval asks the API where the documents in req are stored.
// The answer carries a uri or storage key per document, not the bytes.
func (c *Client) DocumentRetrieval(ctx context.Context, req *ihe.InboundDocumentRetrievalRequest) (*ihe.InboundDocumentRetrievalResponse, error) {
	var resp ihe.InboundDocumentRetrievalResponse
	if err := c.post(ctx, c.path(ihe.DocumentRetrieval, "inbound"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) path(tx ihe.TransactionType, kind string) string {
	return c.baseURL + "/internal/carequality/" + string(tx) + "/" + kind
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	body, err := gojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling internal API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := gojson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
