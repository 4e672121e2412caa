package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/pkg/docstore"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/mime"
	"github.com/metriport/ihe-gateway/pkg/xca"
	"github.com/metriport/ihe-gateway/pkg/xcpd"
)

const (
	localHome  = "2.16.840.1.113883.3.9621"
	remoteHome = "2.16.840.1.113883.3.1111"
)

var (
	localGateway = ihe.Gateway{HomeCommunityID: localHome, URL: "https://gateway.example.org/xcpd"}
	testPatient  = ihe.ExternalGatewayPatient{ID: "local-42", System: localHome}
)

type fakeBackend struct {
	mu        sync.Mutex
	discovery *ihe.InboundPatientDiscoveryResponse
	query     *ihe.InboundDocumentQueryResponse
	retrieval *ihe.InboundDocumentRetrievalResponse
	err       error

	discoveryReqs []*ihe.InboundPatientDiscoveryRequest
	queryReqs     []*ihe.InboundDocumentQueryRequest
	retrievalReqs []*ihe.InboundDocumentRetrievalRequest
}

func (b *fakeBackend) PatientDiscovery(_ context.Context, req *ihe.InboundPatientDiscoveryRequest) (*ihe.InboundPatientDiscoveryResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discoveryReqs = append(b.discoveryReqs, req)
	return b.discovery, b.err
}

func (b *fakeBackend) DocumentQuery(_ context.Context, req *ihe.InboundDocumentQueryRequest) (*ihe.InboundDocumentQueryResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryReqs = append(b.queryReqs, req)
	return b.query, b.err
}

func (b *fakeBackend) DocumentRetrieval(_ context.Context, req *ihe.InboundDocumentRetrievalRequest) (*ihe.InboundDocumentRetrievalResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retrievalReqs = append(b.retrievalReqs, req)
	return b.retrieval, b.err
}

type fakePresigner struct {
	base string
}

func (p *fakePresigner) PresignedURL(_ context.Context, key string) (string, error) {
	return p.base + "/" + key + "?X-Amz-Signature=abc", nil
}

type rejectAll struct{}

func (rejectAll) Validate([]byte) error {
	return &message.ValidationError{Violations: []string{"element 'foo': This element is not expected"}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(backend Backend, opts ...func(*Config)) *Handler {
	cfg := &Config{
		HomeCommunityID:  localHome,
		OrganizationName: "Local Org",
		Defaults:         ihe.SecurityAssertion{HomeCommunityID: remoteHome, PurposeOfUse: "TREATMENT"},
		Backend:          backend,
		Documents:        docstore.NewFetcher(nil),
		Logger:           quietLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return NewHandler(cfg)
}

func post(t *testing.T, h http.HandlerFunc, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func envelopeBytes(t *testing.T, env *message.Envelope, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	raw, err := env.Bytes()
	require.NoError(t, err)
	return raw
}

func discoveryRequest() *ihe.OutboundPatientDiscoveryRequest {
	return &ihe.OutboundPatientDiscoveryRequest{
		ID:        "pd-1",
		CxID:      "cx-1",
		PatientID: "patient-1",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Gateways:  []ihe.Gateway{localGateway},
		PatientResource: ihe.PatientResource{
			Name:      []ihe.Name{{Given: []string{"Alice"}, Family: "Walker"}},
			Gender:    "female",
			BirthDate: "1980-07-14",
		},
	}
}

func discoveryBody(t *testing.T, processingCode string) []byte {
	t.Helper()
	env, err := xcpd.BuildRequest(discoveryRequest(), localGateway, xcpd.RequestOptions{
		HomeCommunityID:  remoteHome,
		OrganizationName: "Remote Org",
		ProcessingCode:   processingCode,
	})
	return envelopeBytes(t, env, err)
}

func TestPatientDiscovery_Match(t *testing.T) {
	match := true
	backend := &fakeBackend{discovery: &ihe.InboundPatientDiscoveryResponse{
		PatientMatch:           &match,
		ExternalGatewayPatient: &testPatient,
		PatientResource: &ihe.PatientResource{
			Name:      []ihe.Name{{Given: []string{"Alice"}, Family: "Walker"}},
			Gender:    "female",
			BirthDate: "1980-07-14",
		},
	}}
	h := newHandler(backend)

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), message.ActionXCPDResponse)

	require.Len(t, backend.discoveryReqs, 1)
	in := backend.discoveryReqs[0]
	assert.Equal(t, "Walker", in.PatientResource.Name[0].Family)
	assert.Equal(t, "1980-07-14", in.PatientResource.BirthDate)
	assert.Equal(t, "TREATMENT", in.SamlAttributes.PurposeOfUse)

	result, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseMatch, c)
	assert.True(t, result.PatientMatch)
	assert.Equal(t, "local-42", result.GatewayPatientID)
	assert.Nil(t, result.OperationOutcome)
}

func TestPatientDiscovery_ProcessingMode(t *testing.T) {
	backend := &fakeBackend{}
	h := newHandler(backend)

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, xcpd.ProcessingTest))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, backend.discoveryReqs)

	result, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseError, c)
	require.NotNil(t, result.OperationOutcome)
	assert.Equal(t, xcpd.DetailProcessingMode, result.OperationOutcome.Issue[0].Code)
}

func TestPatientDiscovery_AcceptedProcessingCodes(t *testing.T) {
	nope := false
	backend := &fakeBackend{discovery: &ihe.InboundPatientDiscoveryResponse{PatientMatch: &nope}}
	h := newHandler(backend, func(cfg *Config) {
		cfg.ProcessingCodes = []string{xcpd.ProcessingProduction, xcpd.ProcessingTest}
	})

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, xcpd.ProcessingTest))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, backend.discoveryReqs, 1)

	_, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseNoMatch, c)
}

func TestPatientDiscovery_SchemaViolation(t *testing.T) {
	backend := &fakeBackend{}
	h := newHandler(backend, func(cfg *Config) {
		cfg.Validators = map[ihe.TransactionType]message.SchemaValidator{ihe.PatientDiscovery: rejectAll{}}
	})

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, backend.discoveryReqs)

	result, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseError, c)
	require.NotNil(t, result.OperationOutcome)
	assert.Equal(t, ihe.CodeInvalid, result.OperationOutcome.Issue[0].Code)
	assert.Contains(t, result.OperationOutcome.Text(), "not expected")
}

func TestPatientDiscovery_BackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	h := newHandler(backend)

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, ""))
	assert.Equal(t, http.StatusOK, w.Code)

	result, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseError, c)
	require.NotNil(t, result.OperationOutcome)
	assert.Equal(t, ihe.CodeProcessing, result.OperationOutcome.Issue[0].Code)
	assert.Equal(t, "Internal Server Error", result.OperationOutcome.Issue[0].Details.Text)
}

func TestPatientDiscovery_MatchWithoutPatient(t *testing.T) {
	match := true
	backend := &fakeBackend{discovery: &ihe.InboundPatientDiscoveryResponse{PatientMatch: &match}}
	h := newHandler(backend)

	w := post(t, h.PatientDiscovery, message.ContentType(message.ActionXCPD), discoveryBody(t, ""))
	assert.Equal(t, http.StatusOK, w.Code)

	_, c := xcpd.ProcessResponse(discoveryRequest(), localGateway, w.Body.Bytes())
	assert.Equal(t, xcpd.CaseError, c)
}

func TestHandler_NotAnEnvelope(t *testing.T) {
	backend := &fakeBackend{}
	h := newHandler(backend)

	for name, serve := range map[string]http.HandlerFunc{
		"xcpd":  h.PatientDiscovery,
		"xcadq": h.DocumentQuery,
		"xcadr": h.DocumentRetrieval,
	} {
		t.Run(name, func(t *testing.T) {
			w := post(t, serve, "application/soap+xml", []byte("<html>hello</html>"))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "Fault")
		})
	}
	assert.Empty(t, backend.discoveryReqs)
	assert.Empty(t, backend.queryReqs)
	assert.Empty(t, backend.retrievalReqs)
}

func queryRequest() *ihe.OutboundDocumentQueryRequest {
	return &ihe.OutboundDocumentQueryRequest{
		ID:                     "dq-1",
		CxID:                   "cx-1",
		PatientID:              "patient-1",
		Timestamp:              time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Gateway:                ihe.Gateway{HomeCommunityID: localHome, URL: "https://gateway.example.org/xcadq"},
		ExternalGatewayPatient: testPatient,
	}
}

func queryBody(t *testing.T) []byte {
	t.Helper()
	env, err := xca.BuildQueryRequest(queryRequest())
	return envelopeBytes(t, env, err)
}

func document(id string) ihe.DocumentReference {
	return ihe.DocumentReference{
		HomeCommunityID:    localHome,
		RepositoryUniqueID: localHome + ".2",
		DocUniqueID:        id,
		ContentType:        "application/pdf",
		Title:              "Summary " + id,
	}
}

func TestDocumentQuery(t *testing.T) {
	backend := &fakeBackend{query: &ihe.InboundDocumentQueryResponse{
		DocumentReference: []ihe.DocumentReference{document("1.2.3.1"), document("1.2.3.2")},
	}}
	h := newHandler(backend)

	w := post(t, h.DocumentQuery, message.ContentType(message.ActionXCAQuery), queryBody(t))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, backend.queryReqs, 1)
	assert.Equal(t, testPatient.ID, backend.queryReqs[0].ExternalGatewayPatient.ID)

	result := xca.ProcessQueryResponse(queryRequest(), w.Body.Bytes())
	require.Len(t, result.DocumentReference, 2)
	assert.Equal(t, "1.2.3.1", result.DocumentReference[0].DocUniqueID)
	assert.Nil(t, result.OperationOutcome)
}

func TestDocumentQuery_MissingPatient(t *testing.T) {
	raw := []byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<query:AdhocQueryRequest xmlns:query="urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0" xmlns:rim="urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0">
<query:ResponseOption returnType="LeafClass"/>
<rim:AdhocQuery id="urn:uuid:14d4debf-8f97-4251-9a74-a90016b0af0d"/>
</query:AdhocQueryRequest></soap:Body></soap:Envelope>`)
	backend := &fakeBackend{}
	h := newHandler(backend)

	w := post(t, h.DocumentQuery, message.ContentTypeSOAP, raw)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, backend.queryReqs)
	assert.Contains(t, w.Body.String(), xca.StatusFailure.URN())
	assert.Contains(t, w.Body.String(), xca.ErrorRegistry)
}

func TestDocumentQuery_BackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("status 500")}
	h := newHandler(backend)

	w := post(t, h.DocumentQuery, message.ContentType(message.ActionXCAQuery), queryBody(t))
	assert.Equal(t, http.StatusOK, w.Code)

	result := xca.ProcessQueryResponse(queryRequest(), w.Body.Bytes())
	assert.Empty(t, result.DocumentReference)
	require.NotNil(t, result.OperationOutcome)
	assert.Equal(t, xca.ErrorRegistry, result.OperationOutcome.Issue[0].Code)
	assert.Contains(t, result.OperationOutcome.Text(), "Internal Server Error")
}

func retrievalRequest(ids ...string) *ihe.OutboundDocumentRetrievalRequest {
	req := &ihe.OutboundDocumentRetrievalRequest{
		ID:        "dr-1",
		CxID:      "cx-1",
		PatientID: "patient-1",
		Gateway:   ihe.Gateway{HomeCommunityID: localHome, URL: "https://gateway.example.org/xcadr"},
	}
	for _, id := range ids {
		ref := document(id)
		ref.ContentType = ""
		req.DocumentReference = append(req.DocumentReference, ref)
	}
	return req
}

func retrievalBody(t *testing.T, req *ihe.OutboundDocumentRetrievalRequest) []byte {
	t.Helper()
	env, err := xca.BuildRetrieveRequest(req)
	return envelopeBytes(t, env, err)
}

// documentServer serves /docs/<name> for every name in docs
func documentServer(t *testing.T, docs map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := docs[strings.TrimPrefix(r.URL.Path, "/docs/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentRetrieval_FetchesDocuments(t *testing.T) {
	srv := documentServer(t, map[string]string{
		"first.pdf":       "%PDF-1.4 first",
		"cx-1/second.pdf": "%PDF-1.4 second",
	})

	byURL := document("1.2.3.1")
	byURL.URI = srv.URL + "/docs/first.pdf"
	byKey := document("1.2.3.2")
	byKey.StorageKey = "cx-1/second.pdf"
	missing := document("1.2.3.3")
	missing.URI = srv.URL + "/docs/gone.pdf"

	backend := &fakeBackend{retrieval: &ihe.InboundDocumentRetrievalResponse{
		DocumentReference: []ihe.DocumentReference{byURL, byKey, missing},
	}}
	h := newHandler(backend, func(cfg *Config) {
		cfg.Presigner = &fakePresigner{base: srv.URL + "/docs"}
	})

	out := retrievalRequest("1.2.3.1", "1.2.3.2", "1.2.3.3")
	w := post(t, h.DocumentRetrieval, message.ContentType(message.ActionXCARetrieve), retrievalBody(t, out))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), xca.StatusPartialSuccess.URN())

	require.Len(t, backend.retrievalReqs, 1)
	assert.Len(t, backend.retrievalReqs[0].DocumentReference, 3)
	assert.False(t, backend.retrievalReqs[0].AcceptsMultipart)

	result := xca.ProcessRetrieveResponse(out, w.Header().Get("Content-Type"), w.Body.Bytes())
	require.Len(t, result.DocumentReference, 2)
	assert.Equal(t, []byte("%PDF-1.4 first"), result.DocumentReference[0].Content)
	assert.Equal(t, []byte("%PDF-1.4 second"), result.DocumentReference[1].Content)

	require.NotNil(t, result.OperationOutcome)
	require.Len(t, result.OperationOutcome.Issue, 1)
	assert.Equal(t, xca.ErrorMissingDocument, result.OperationOutcome.Issue[0].Code)
	assert.Contains(t, result.OperationOutcome.Issue[0].Details.Text, "1.2.3.3")
}

func TestDocumentRetrieval_InternalAPIOmitsDocument(t *testing.T) {
	found := document("1.2.3.1")
	found.Content = []byte("%PDF-1.4 first")
	extra := document("1.2.3.9")
	extra.Content = []byte("%PDF-1.4 extra")

	backend := &fakeBackend{retrieval: &ihe.InboundDocumentRetrievalResponse{
		DocumentReference: []ihe.DocumentReference{found, extra},
	}}
	h := newHandler(backend)

	out := retrievalRequest("1.2.3.1", "1.2.3.2")
	w := post(t, h.DocumentRetrieval, message.ContentType(message.ActionXCARetrieve), retrievalBody(t, out))
	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, xca.StatusPartialSuccess.URN())
	assert.Contains(t, body, "RegistryErrorList")
	assert.Contains(t, body, `location="1.2.3.2"`)
	assert.NotContains(t, body, "1.2.3.9")

	result := xca.ProcessRetrieveResponse(out, w.Header().Get("Content-Type"), w.Body.Bytes())
	require.Len(t, result.DocumentReference, 1)
	assert.Equal(t, "1.2.3.1", result.DocumentReference[0].DocUniqueID)
	require.NotNil(t, result.OperationOutcome)
	require.Len(t, result.OperationOutcome.Issue, 1)
	assert.Equal(t, xca.ErrorMissingDocument, result.OperationOutcome.Issue[0].Code)
	assert.Equal(t, []string{"1.2.3.2"}, result.OperationOutcome.Issue[0].Location)
}

func TestDocumentRetrieval_Multipart(t *testing.T) {
	srv := documentServer(t, map[string]string{"first.pdf": "%PDF-1.4 first"})
	ref := document("1.2.3.1")
	ref.URI = srv.URL + "/docs/first.pdf"

	out := retrievalRequest("1.2.3.1")
	body, contentType, err := mime.NewMessage(retrievalBody(t, out), nil).Serialize()
	require.NoError(t, err)

	t.Run("enabled", func(t *testing.T) {
		backend := &fakeBackend{retrieval: &ihe.InboundDocumentRetrievalResponse{DocumentReference: []ihe.DocumentReference{ref}}}
		h := newHandler(backend, func(cfg *Config) { cfg.MultipartResponses = true })

		w := post(t, h.DocumentRetrieval, contentType, body)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, mime.IsMultipart(w.Header().Get("Content-Type")))
		require.Len(t, backend.retrievalReqs, 1)
		assert.True(t, backend.retrievalReqs[0].AcceptsMultipart)

		result := xca.ProcessRetrieveResponse(out, w.Header().Get("Content-Type"), w.Body.Bytes())
		require.Len(t, result.DocumentReference, 1)
		assert.Equal(t, []byte("%PDF-1.4 first"), result.DocumentReference[0].Content)
		assert.Nil(t, result.OperationOutcome)
	})

	t.Run("disabled", func(t *testing.T) {
		backend := &fakeBackend{}
		h := newHandler(backend)

		w := post(t, h.DocumentRetrieval, contentType, body)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, mime.IsMultipart(w.Header().Get("Content-Type")))
		assert.Empty(t, backend.retrievalReqs)

		result := xca.ProcessRetrieveResponse(out, w.Header().Get("Content-Type"), w.Body.Bytes())
		assert.Empty(t, result.DocumentReference)
		require.NotNil(t, result.OperationOutcome)
		assert.True(t, result.OperationOutcome.HasErrors())
		assert.Contains(t, result.OperationOutcome.Text(), "not supported")
	})
}

func TestDocumentRetrieval_BackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("timeout")}
	h := newHandler(backend)

	out := retrievalRequest("1.2.3.1")
	w := post(t, h.DocumentRetrieval, message.ContentType(message.ActionXCARetrieve), retrievalBody(t, out))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), xca.StatusFailure.URN())

	result := xca.ProcessRetrieveResponse(out, w.Header().Get("Content-Type"), w.Body.Bytes())
	assert.Empty(t, result.DocumentReference)
	assert.Contains(t, result.OperationOutcome.Text(), "Internal Server Error")
}
