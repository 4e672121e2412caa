package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

func TestPostResults(t *testing.T) {
	var got ResultBatch
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/"})
	err := c.PostResults(context.Background(), ihe.DocumentQuery, ResultBatch{
		RequestID: "req-1",
		PatientID: "patient-1",
		CxID:      "cx-1",
		Results:   []json.RawMessage{json.RawMessage(`{"id":"req-1"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "/internal/carequality/document-query/results", path)
	assert.Equal(t, "req-1", got.RequestID)
	require.Len(t, got.Results, 1)
	assert.JSONEq(t, `{"id":"req-1"}`, string(got.Results[0]))
}

func TestPostResults_EmptyListIsArray(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &raw))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, c.PostResults(context.Background(), ihe.PatientDiscovery, ResultBatch{RequestID: "r"}))
	assert.Equal(t, []any{}, raw["results"])
}

func TestPatientDiscovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/carequality/patient-discovery/inbound", r.URL.Path)
		var req ihe.InboundPatientDiscoveryRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "pd-1", req.ID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pd-1","patientMatch":true,"externalGatewayPatient":{"id":"local-9","system":"1.2.3"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	resp, err := c.PatientDiscovery(context.Background(), &ihe.InboundPatientDiscoveryRequest{ID: "pd-1"})
	require.NoError(t, err)
	require.NotNil(t, resp.PatientMatch)
	assert.True(t, *resp.PatientMatch)
	assert.Equal(t, "local-9", resp.ExternalGatewayPatient.ID)
}

func TestDocumentRetrieval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/carequality/document-retrieval/inbound", r.URL.Path)
		w.Write([]byte(`{"id":"dr-1","documentReference":[{"docUniqueId":"1.2.3","url":"https://files.example.com/1.2.3","contentType":"application/pdf"}]}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	resp, err := c.DocumentRetrieval(context.Background(), &ihe.InboundDocumentRetrievalRequest{ID: "dr-1"})
	require.NoError(t, err)
	require.Len(t, resp.DocumentReference, 1)
	assert.Equal(t, "https://files.example.com/1.2.3", resp.DocumentReference[0].URI)
}

func TestErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/carequality/document-query/inbound":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.Write([]byte(`{not json`))
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})

	_, err := c.DocumentQuery(context.Background(), &ihe.InboundDocumentQueryRequest{ID: "dq-1"})
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
	assert.Contains(t, status.Body, "boom")

	_, err = c.PatientDiscovery(context.Background(), &ihe.InboundPatientDiscoveryRequest{ID: "pd-1"})
	assert.Error(t, err)
}
