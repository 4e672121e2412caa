// Package gateway answers cross-gateway requests from remote communities.
//
// The handler implements the responding side of ITI-55, ITI-38 and ITI-39.
// Business decisions (is the patient known, which documents exist, where
// they are stored) are delegated to the internal API; this package owns
// the protocol.
//
// # Message Flow
//
//  1. HTTP POST received, plain SOAP or MIME multipart (MTOM)
//  2. SOAP envelope extracted and parsed, body validated against the schema
//  3. Request read into the normalized inbound model
//  4. Internal API consulted
//  5. For retrievals, document bytes fetched from their presigned location
//  6. Response built, signature of the request confirmed, and returned
//
// Once the body has been read every failure is answered in protocol terms:
// a negative acknowledgement for patient discovery, a Failure registry
// response for document query and retrieval. Only a body that is not a
// SOAP envelope at all gets a SOAP fault.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/mime"
	"github.com/metriport/ihe-gateway/pkg/xca"
	"github.com/metriport/ihe-gateway/pkg/xcpd"
)

const (
	maxRequestSize = 32 << 20
	fetchLimit     = 5
)

// Backend makes the business decisions. *api.Client is the production
// implementation.
type Backend interface {
	PatientDiscovery(ctx context.Context, req *ihe.InboundPatientDiscoveryRequest) (*ihe.InboundPatientDiscoveryResponse, error)
	DocumentQuery(ctx context.Context, req *ihe.InboundDocumentQueryRequest) (*ihe.InboundDocumentQueryResponse, error)
	DocumentRetrieval(ctx context.Context, req *ihe.InboundDocumentRetrievalRequest) (*ihe.InboundDocumentRetrievalResponse, error)
}

// DocumentSource downloads document bytes from a URL. *docstore.Fetcher is
// the production implementation.
type DocumentSource interface {
	Fetch(ctx context.Context, uri string) ([]byte, string, error)
}

// Presigner turns a storage key into a downloadable URL. *docstore.Store is
// the production implementation.
type Presigner interface {
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Config holds handler configuration
type Config struct {
	HomeCommunityID  string
	OrganizationName string
	// ProcessingCodes are the accepted XCPD processingCode values
	ProcessingCodes []string
	// Defaults fill assertion attributes remote senders omit
	Defaults ihe.SecurityAssertion
	// MultipartResponses allows MTOM answers to MTOM retrieval requests
	MultipartResponses bool

	// Validators validate the body payload per transaction. Missing
	// entries accept everything.
	Validators map[ihe.TransactionType]message.SchemaValidator

	Backend   Backend
	Documents DocumentSource
	Presigner Presigner
	Logger    *slog.Logger
}

// Handler serves inbound cross-gateway requests
type Handler struct {
	cfg       Config
	backend   Backend
	documents DocumentSource
	presigner Presigner
	logger    *slog.Logger
}

// NewHandler creates a new inbound handler
func NewHandler(cfg *Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       *cfg,
		backend:   cfg.Backend,
		documents: cfg.Documents,
		presigner: cfg.Presigner,
		logger:    logger,
	}
}

// inbound is a request read off the wire
type inbound struct {
	msg    *mime.Message
	parsed *message.Parsed
	// err is a validation problem to answer in protocol terms
	err error
}

// read extracts and validates the envelope. A nil result means a response
// has already been written.
func (h *Handler) read(w http.ResponseWriter, r *http.Request, tx ihe.TransactionType) *inbound {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return nil
	}

	msg, err := mime.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.fault(w, "decoding request: "+err.Error())
		return nil
	}
	parsed, err := message.Parse(msg.Envelope)
	if err != nil {
		h.fault(w, err.Error())
		return nil
	}

	in := &inbound{msg: msg, parsed: parsed}
	if v := h.cfg.Validators[tx]; v != nil {
		payload, err := message.DetachPayload(msg.Envelope)
		if err == nil {
			err = v.Validate(payload)
		}
		in.err = err
	}
	return in
}

func (h *Handler) fault(w http.ResponseWriter, reason string) {
	env := message.NewFaultEnvelope("Sender", "", reason, message.Addressing{})
	raw, err := env.Bytes()
	if err != nil {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", message.ContentType(""))
	w.WriteHeader(http.StatusBadRequest)
	w.Write(raw)
}

func (h *Handler) write(w http.ResponseWriter, log *slog.Logger, contentType string, raw []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		log.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

// PatientDiscovery serves ITI-55
func (h *Handler) PatientDiscovery(w http.ResponseWriter, r *http.Request) {
	in := h.read(w, r, ihe.PatientDiscovery)
	if in == nil {
		return
	}

	req, err := xcpd.ParseRequest(in.parsed, xcpd.InboundOptions{
		ProcessingCodes: h.cfg.ProcessingCodes,
		Defaults:        h.cfg.Defaults,
	})
	// a rejected processing code wins over payload validity
	if err == nil {
		err = in.err
	}
	log := h.logger.With(slog.String("transaction", string(ihe.PatientDiscovery)), slog.String("request_id", req.ID))

	var resp *ihe.InboundPatientDiscoveryResponse
	switch {
	case errors.Is(err, xcpd.ErrProcessingMode):
		log.Info("rejected processing code", slog.String("error", err.Error()))
		resp = xcpd.NACK(req, xcpd.DetailProcessingMode, err.Error())
	case err != nil:
		log.Info("invalid request", slog.String("error", err.Error()))
		resp = xcpd.NACK(req, ihe.CodeInvalid, err.Error())
	default:
		resp, err = h.backend.PatientDiscovery(r.Context(), req)
		if err != nil {
			log.Error("internal API failed", slog.String("error", err.Error()))
			resp = xcpd.NACK(req, ihe.CodeProcessing, "Internal Server Error")
		}
	}

	opts := xcpd.ResponderOptions{HomeCommunityID: h.cfg.HomeCommunityID, OrganizationName: h.cfg.OrganizationName}
	env, err := xcpd.BuildResponse(req, resp, opts)
	if err != nil {
		log.Error("invalid internal API answer", slog.String("error", err.Error()))
		env, err = xcpd.BuildResponse(req, xcpd.NACK(req, ihe.CodeProcessing, "Internal Server Error"), opts)
	}
	if err != nil {
		h.fault(w, "building response")
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		h.fault(w, "building response")
		return
	}

	log.Info("patient discovery answered", slog.Any("patient_match", resp.PatientMatch))
	h.write(w, log, message.ContentType(message.ActionXCPDResponse), raw)
}

// DocumentQuery serves ITI-38
func (h *Handler) DocumentQuery(w http.ResponseWriter, r *http.Request) {
	in := h.read(w, r, ihe.DocumentQuery)
	if in == nil {
		return
	}

	req, err := xca.ParseQueryRequest(in.parsed, h.cfg.Defaults)
	if err == nil {
		err = in.err
	}
	log := h.logger.With(slog.String("transaction", string(ihe.DocumentQuery)), slog.String("request_id", req.ID))

	var resp *ihe.InboundDocumentQueryResponse
	if err != nil {
		log.Info("invalid request", slog.String("error", err.Error()))
		resp = xca.NewQueryResponse(req.ID, xca.Failure(req.ID, xca.ErrorRegistry, err.Error()))
	} else {
		resp, err = h.backend.DocumentQuery(r.Context(), req)
		if err != nil {
			log.Error("internal API failed", slog.String("error", err.Error()))
			resp = xca.NewQueryResponse(req.ID, xca.Failure(req.ID, xca.ErrorRegistry, "Internal Server Error"))
		}
	}

	env := xca.BuildQueryResponse(req, resp, xca.ResponderOptions{HomeCommunityID: h.cfg.HomeCommunityID})
	raw, err := env.Bytes()
	if err != nil {
		h.fault(w, "building response")
		return
	}

	log.Info("document query answered",
		slog.Int("documents", len(resp.DocumentReference)),
		slog.String("status", string(xca.QueryStatus(resp.OperationOutcome))))
	h.write(w, log, message.ContentType(message.ActionXCAQueryResponse), raw)
}

// DocumentRetrieval serves ITI-39
func (h *Handler) DocumentRetrieval(w http.ResponseWriter, r *http.Request) {
	in := h.read(w, r, ihe.DocumentRetrieval)
	if in == nil {
		return
	}

	req, err := xca.ParseRetrieveRequest(in.parsed, xca.RetrieveOptions{
		Multipart: in.msg.Multipart,
		Defaults:  h.cfg.Defaults,
	})
	if err == nil {
		err = in.err
	}
	log := h.logger.With(slog.String("transaction", string(ihe.DocumentRetrieval)), slog.String("request_id", req.ID))

	var resp *ihe.InboundDocumentRetrievalResponse
	switch {
	case err != nil:
		log.Info("invalid request", slog.String("error", err.Error()))
		resp = xca.NewRetrieveResponse(req.ID, xca.Failure(req.ID, xca.ErrorRegistry, err.Error()))
	case req.AcceptsMultipart && !h.cfg.MultipartResponses:
		log.Info("multipart request refused")
		resp = xca.NewRetrieveResponse(req.ID, mime.NotSupported(req.ID, "response"))
	default:
		resp, err = h.backend.DocumentRetrieval(r.Context(), req)
		if err != nil {
			log.Error("internal API failed", slog.String("error", err.Error()))
			resp = xca.NewRetrieveResponse(req.ID, xca.Failure(req.ID, xca.ErrorRegistry, "Internal Server Error"))
		} else {
			keepRequested(log, req, resp)
			h.loadDocuments(r.Context(), log, req, resp)
		}
	}

	raw, contentType, err := xca.BuildRetrieveResponse(req, resp, xca.RetrieveResponseOptions{
		Multipart: req.AcceptsMultipart && h.cfg.MultipartResponses,
	})
	if err != nil {
		log.Error("building response failed", slog.String("error", err.Error()))
		h.fault(w, "building response")
		return
	}

	log.Info("document retrieval answered",
		slog.Int("documents", len(resp.DocumentReference)),
		slog.Bool("multipart", req.AcceptsMultipart && h.cfg.MultipartResponses))
	h.write(w, log, contentType, raw)
}

// loadDocuments fills in the bytes of every reference the internal API
// returned. A document that cannot be fetched is left empty and gains a
// missing-document registry error.
func (h *Handler) loadDocuments(ctx context.Context, log *slog.Logger, req *ihe.InboundDocumentRetrievalRequest, resp *ihe.InboundDocumentRetrievalResponse) {
	issues := make([]*ihe.Issue, len(resp.DocumentReference))

	var g errgroup.Group
	g.SetLimit(fetchLimit)
	for i := range resp.DocumentReference {
		ref := &resp.DocumentReference[i]
		if len(ref.Content) > 0 {
			continue
		}
		g.Go(func() error {
			data, contentType, err := h.fetch(ctx, ref)
			if err != nil {
				log.Warn("document not fetched", slog.String("document", ref.Key()), slog.String("error", err.Error()))
				issue := xca.MissingDocument(ref.Key(), "could not be retrieved")
				issues[i] = &issue
				return nil
			}
			ref.Content = data
			if ref.ContentType == "" {
				ref.ContentType = contentType
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, issue := range issues {
		if issue != nil {
			resp.OperationOutcome = resp.OperationOutcome.Append(req.ID, *issue)
		}
	}
}

// keepRequested drops references the remote community did not ask for
func keepRequested(log *slog.Logger, req *ihe.InboundDocumentRetrievalRequest, resp *ihe.InboundDocumentRetrievalResponse) {
	requested := make(map[string]bool, len(req.DocumentReference))
	for _, ref := range req.DocumentReference {
		requested[ref.Key()] = true
	}
	kept := resp.DocumentReference[:0]
	for _, ref := range resp.DocumentReference {
		if !requested[ref.Key()] {
			log.Warn("dropping document that was not requested", slog.String("document", ref.Key()))
			continue
		}
		kept = append(kept, ref)
	}
	resp.DocumentReference = kept
}

func (h *Handler) fetch(ctx context.Context, ref *ihe.DocumentReference) ([]byte, string, error) {
	uri := ref.URI
	if uri == "" && ref.StorageKey != "" && h.presigner != nil {
		signed, err := h.presigner.PresignedURL(ctx, ref.StorageKey)
		if err != nil {
			return nil, "", err
		}
		uri = signed
	}
	if uri == "" {
		return nil, "", errors.New("no location for document")
	}
	if h.documents == nil {
		return nil, "", errors.New("no document source configured")
	}
	return h.documents.Fetch(ctx, uri)
}
