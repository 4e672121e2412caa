package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// RecommendedTLS12CipherSuites are offered when TLS 1.2 is negotiated
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

const userAgent = "ihe-gateway/1.0"

// maxResponseSize bounds a single gateway response, retrievals included
const maxResponseSize = 256 << 20

// HTTPSConfig contains HTTPS client/server configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	// Logger receives the raw exchanged payloads at debug level
	Logger *slog.Logger
}

// DefaultHTTPSConfig returns a default HTTPS configuration. Timeout is left
// at zero: outbound calls are bounded by the caller's context instead.
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		IdleConnTimeout: 90 * time.Second,
	}
}

// Response is a gateway's answer to a SOAP request
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError is returned for a non-2xx answer that does not carry a SOAP
// fault.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// HTTPSClient posts SOAP envelopes to remote gateways
type HTTPSClient struct {
	client *http.Client
	config *HTTPSConfig
	logger *slog.Logger
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		RootCAs:      config.RootCAs,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPSClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
		logger: logger,
	}
}

// Send posts body to endpoint. A non-2xx answer is returned as a
// *StatusError unless its body is a SOAP envelope, in which case the
// response is returned so the caller can read the fault.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, body []byte, contentType, action string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	if action != "" {
		// SOAP 1.1 stacks still look for the header
		req.Header.Set("SOAPAction", `"`+action+`"`)
	}

	c.logger.Debug("outbound request", "endpoint", endpoint, "action", action, "body", string(body))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("outbound response",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"body", string(responseBody),
	)

	result := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        responseBody,
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusInternalServerError && isSOAPFault(responseBody) {
			return result, nil
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: responseBody}
	}

	return result, nil
}

func isSOAPFault(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "Envelope") && strings.Contains(s, "Fault")
}

// HTTPSServer serves the gateway's handler, over TLS when certificates are
// configured.
type HTTPSServer struct {
	server *http.Server
	config *HTTPSConfig
}

// NewHTTPSServer creates a new HTTPS server
func NewHTTPSServer(addr string, config *HTTPSConfig, handler http.Handler) *HTTPSServer {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		ClientCAs:    config.ClientCAs,
		ClientAuth:   config.ClientAuth,
	}

	return &HTTPSServer{
		config: config,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			WriteTimeout:      config.Timeout,
			IdleTimeout:       config.IdleConnTimeout,
		},
	}
}

// Start serves until Shutdown is called
func (s *HTTPSServer) Start() error {
	var err error
	if len(s.config.Certificates) > 0 {
		err = s.server.ListenAndServeTLS("", "")
	} else {
		err = s.server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *HTTPSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
