// Package server provides the HTTP server of the IHE gateway.
//
// The server exposes two API surfaces:
//
// # Responding Gateway (remote communities)
//
//   - POST {basePath}/xcpd  - ITI-55 Cross Gateway Patient Discovery
//   - POST {basePath}/xcadq - ITI-38 Cross Gateway Query
//   - POST {basePath}/xcadr - ITI-39 Cross Gateway Retrieve
//
// These take SOAP 1.2 or MTOM bodies and are rate limited per client IP.
//
// # Initiating Gateway (internal API tier, bearer token when configured)
//
//   - POST /outbound/patient-discovery  - fan a patient discovery out
//   - POST /outbound/document-query     - fan document queries out
//   - POST /outbound/document-retrieval - fan document retrievals out
//   - GET  /outbound/results/{id}       - results landed so far
//
// Outbound requests are validated synchronously and answered with
// 202 {requestId}; the exchange runs in the background.
//
// # Health
//
//   - GET /health - Liveness probe
//   - GET /ready  - Readiness probe, pings the correlation store
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	gojson "github.com/goccy/go-json"

	"github.com/metriport/ihe-gateway/internal/auth"
	"github.com/metriport/ihe-gateway/internal/config"
	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/transport"
)

const (
	maxOutboundBody = 16 << 20
	// serverTimeout bounds reads and writes, retrievals included
	serverTimeout = 5 * time.Minute
)

// Dispatcher starts outbound exchanges. *outbound.Dispatcher is the
// production implementation.
type Dispatcher interface {
	StartPatientDiscovery(ctx context.Context, req *ihe.OutboundPatientDiscoveryRequest) error
	StartDocumentQuery(ctx context.Context, reqs []ihe.OutboundDocumentQueryRequest) error
	StartDocumentRetrieval(ctx context.Context, reqs []ihe.OutboundDocumentRetrievalRequest) error
}

// Inbound answers remote communities. *gateway.Handler is the production
// implementation.
type Inbound interface {
	PatientDiscovery(w http.ResponseWriter, r *http.Request)
	DocumentQuery(w http.ResponseWriter, r *http.Request)
	DocumentRetrieval(w http.ResponseWriter, r *http.Request)
}

// Components are the collaborators the server routes to
type Components struct {
	Dispatcher Dispatcher
	Inbound    Inbound
	Store      correlation.Store
	// Auth protects the outbound API; nil leaves it open
	Auth *auth.Authenticator
}

// Server is the gateway HTTP server
type Server struct {
	config     config.ServerConfig
	logger     *slog.Logger
	router     chi.Router
	httpSrv    *transport.HTTPSServer
	dispatcher Dispatcher
	inbound    Inbound
	store      correlation.Store
	auth       *auth.Authenticator
}

// New creates a new gateway server
func New(cfg config.ServerConfig, c Components, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:     cfg,
		logger:     logger,
		dispatcher: c.Dispatcher,
		inbound:    c.Inbound,
		store:      c.Store,
		auth:       c.Auth,
	}
	if s.auth == nil {
		s.auth = auth.NewAuthenticator(config.OAuth2Config{}, logger)
	}
	if !s.auth.IsEnabled() {
		logger.Warn("OAuth2 authentication disabled - outbound endpoints will accept unauthenticated requests")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	s.registerRoutes(r)
	s.router = r

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the configured port and blocks until Shutdown
func (s *Server) Start() error {
	tlsConfig, err := s.transportConfig()
	if err != nil {
		return err
	}
	addr := ":" + strconv.Itoa(s.config.Port)
	s.httpSrv = transport.NewHTTPSServer(addr, tlsConfig, s.router)
	s.logger.Info("starting server", "addr", addr, "tls", s.config.TLS.Enabled)
	return s.httpSrv.Start()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) transportConfig() (*transport.HTTPSConfig, error) {
	cfg := transport.DefaultHTTPSConfig()
	cfg.Timeout = serverTimeout
	if !s.config.TLS.Enabled {
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if s.config.TLS.ClientCAFile != "" {
		pemData, err := os.ReadFile(s.config.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates in %s", s.config.TLS.ClientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (s *Server) registerRoutes(r chi.Router) {
	// Health endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Responding gateway
	r.Group(func(r chi.Router) {
		if s.config.InboundRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.config.InboundRateLimit, time.Minute))
		}
		r.Post(path.Join("/", s.config.BasePath, "xcpd"), s.inbound.PatientDiscovery)
		r.Post(path.Join("/", s.config.BasePath, "xcadq"), s.inbound.DocumentQuery)
		r.Post(path.Join("/", s.config.BasePath, "xcadr"), s.inbound.DocumentRetrieval)
	})

	// Initiating gateway
	r.Route("/outbound", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/patient-discovery", s.handlePatientDiscovery)
		r.Post("/document-query", s.handleDocumentQuery)
		r.Post("/document-retrieval", s.handleDocumentRetrieval)
		r.Get("/results/{requestID}", s.handleResults)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" || r.URL.Path == "/ready" {
			return
		}
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("correlation store not ready", "error", err)
		s.jsonError(w, "correlation store not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Outbound handlers

// AcceptedResponse answers a started outbound request
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
}

// ResultsResponse is the correlation record as landed so far
type ResultsResponse struct {
	RequestID   string              `json:"requestId"`
	PatientID   string              `json:"patientId,omitempty"`
	CxID        string              `json:"cxId,omitempty"`
	Transaction ihe.TransactionType `json:"transaction,omitempty"`
	Expected    int                 `json:"expected"`
	Complete    bool                `json:"complete"`
	Results     []gojson.RawMessage `json:"results"`
}

func (s *Server) handlePatientDiscovery(w http.ResponseWriter, r *http.Request) {
	var req ihe.OutboundPatientDiscoveryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.dispatcher.StartPatientDiscovery(r.Context(), &req); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("patient discovery started", "request_id", req.ID, "cx_id", req.CxID, "gateways", len(req.Gateways))
	s.jsonResponse(w, AcceptedResponse{RequestID: req.ID}, http.StatusAccepted)
}

func (s *Server) handleDocumentQuery(w http.ResponseWriter, r *http.Request) {
	var reqs []ihe.OutboundDocumentQueryRequest
	if !s.decode(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		s.jsonError(w, "invalid document query request: no gateways", http.StatusBadRequest)
		return
	}
	if err := s.dispatcher.StartDocumentQuery(r.Context(), reqs); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("document query started", "request_id", reqs[0].ID, "cx_id", reqs[0].CxID, "gateways", len(reqs))
	s.jsonResponse(w, AcceptedResponse{RequestID: reqs[0].ID}, http.StatusAccepted)
}

func (s *Server) handleDocumentRetrieval(w http.ResponseWriter, r *http.Request) {
	var reqs []ihe.OutboundDocumentRetrievalRequest
	if !s.decode(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		s.jsonError(w, "invalid document retrieval request: no gateways", http.StatusBadRequest)
		return
	}
	if err := s.dispatcher.StartDocumentRetrieval(r.Context(), reqs); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("document retrieval started", "request_id", reqs[0].ID, "cx_id", reqs[0].CxID, "gateways", len(reqs))
	s.jsonResponse(w, AcceptedResponse{RequestID: reqs[0].ID}, http.StatusAccepted)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	rec, err := s.store.Fetch(r.Context(), requestID)
	if errors.Is(err, correlation.ErrNotFound) {
		s.jsonError(w, "request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch results", "request_id", requestID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := ResultsResponse{
		RequestID:   rec.RequestID,
		PatientID:   rec.PatientID,
		CxID:        rec.CxID,
		Transaction: rec.Transaction,
		Expected:    rec.Expected,
		Complete:    rec.Complete(),
		Results:     make([]gojson.RawMessage, len(rec.Results)),
	}
	for i, result := range rec.Results {
		resp.Results[i] = gojson.RawMessage(result)
	}

	if consume, _ := strconv.ParseBool(r.URL.Query().Get("consume")); consume {
		if err := s.store.Delete(r.Context(), requestID); err != nil {
			s.logger.Error("failed to delete results", "request_id", requestID, "error", err)
		}
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

// Helper functions

// decode reads a JSON body into v. On failure an error response has been
// written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOutboundBody))
	if err != nil {
		s.jsonError(w, "reading request body", http.StatusBadRequest)
		return false
	}
	if err := gojson.Unmarshal(body, v); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gojson.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
