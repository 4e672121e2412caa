package outbound

import (
	"context"
	"fmt"

	"github.com/metriport/ihe-gateway/pkg/directory"
	"github.com/metriport/ihe-gateway/pkg/docstore"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/xca"
)

// DocumentRetrieval sends each request to its gateway and returns one
// result per request, in order. All requests must share one request id.
// With a document sink configured, retrieved payloads are stored and
// linked from each reference's URI.
func (d *Dispatcher) DocumentRetrieval(ctx context.Context, reqs []ihe.OutboundDocumentRetrievalRequest) ([]ihe.DocumentRetrievalResult, error) {
	prepared, err := d.prepareDocumentRetrieval(reqs)
	if err != nil {
		return nil, err
	}
	first := prepared[0]
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.DocumentRetrieval, first.ID, first.PatientID, first.CxID, len(prepared))
	return d.runDocumentRetrieval(ctx, prepared), nil
}

// StartDocumentRetrieval validates reqs and returns; the exchanges continue in the
// background and their results land in the correlation store.
func (d *Dispatcher) StartDocumentRetrieval(ctx context.Context, reqs []ihe.OutboundDocumentRetrievalRequest) error {
	prepared, err := d.prepareDocumentRetrieval(reqs)
	if err != nil {
		return err
	}
	first := prepared[0]
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.DocumentRetrieval, first.ID, first.PatientID, first.CxID, len(prepared))
	d.background(func() { d.runDocumentRetrieval(ctx, prepared) })
	return nil
}

func (d *Dispatcher) prepareDocumentRetrieval(reqs []ihe.OutboundDocumentRetrievalRequest) ([]ihe.OutboundDocumentRetrievalRequest, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("invalid document retrieval request: no gateways")
	}
	prepared := make([]ihe.OutboundDocumentRetrievalRequest, len(reqs))
	for i, req := range reqs {
		req.SamlAttributes = req.SamlAttributes.WithDefaults(d.cfg.Assertion)
		if req.Timestamp.IsZero() {
			req.Timestamp = now()
		}
		if err := d.validate.Struct(&req); err != nil {
			return nil, fmt.Errorf("invalid document retrieval request %d: %w", i, err)
		}
		if req.ID != reqs[0].ID {
			return nil, fmt.Errorf("invalid document retrieval request %d: request id %s differs from %s", i, req.ID, reqs[0].ID)
		}
		prepared[i] = req
	}
	return prepared, nil
}

func (d *Dispatcher) runDocumentRetrieval(ctx context.Context, prepared []ihe.OutboundDocumentRetrievalRequest) []ihe.DocumentRetrievalResult {
	id := prepared[0].ID
	return fanOut(d, len(prepared), func(i int) ihe.DocumentRetrievalResult {
		result := d.retrieveDocuments(ctx, prepared[i])
		d.record(ctx, id, result)
		return result
	})
}

func (d *Dispatcher) retrieveDocuments(ctx context.Context, req ihe.OutboundDocumentRetrievalRequest) ihe.DocumentRetrievalResult {
	alert := Alert{
		Transaction: ihe.DocumentRetrieval,
		RequestID:   req.ID,
		CxID:        req.CxID,
		PatientID:   req.PatientID,
		Gateway:     req.Gateway,
	}

	gw, err := directory.Resolve(ctx, d.directory, req.Gateway, ihe.DocumentRetrieval)
	if err != nil {
		d.logger.Info("gateway not resolved", "request_id", req.ID, "gateway", req.Gateway.HomeCommunityID, "error", err)
		result := xca.RetrievalResult(&req)
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, unresolvedIssue(err))
		return result
	}
	req.Gateway = gw
	alert.Gateway = gw

	resp, err := d.send(ctx, exchange{
		tx:      ihe.DocumentRetrieval,
		gw:      gw,
		action:  message.ActionXCARetrieve,
		timeout: d.cfg.DocumentRetrievalTimeout,
		build: func() (*message.Envelope, error) {
			env, err := xca.BuildRetrieveRequest(&req)
			if err != nil {
				return nil, err
			}
			return env, d.sign(env, req.SamlAttributes, gw)
		},
	})
	if err != nil {
		result := xca.RetrievalResult(&req)
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, d.failed(ctx, alert, err))
		return result
	}

	result := xca.ProcessRetrieveResponse(&req, resp.ContentType, resp.Body)
	d.storeDocuments(ctx, &req, &result, alert)
	d.logger.Debug("document retrieval result",
		"request_id", req.ID,
		"gateway", gw.HomeCommunityID,
		"request_chunk_id", req.RequestChunkID,
		"documents", len(result.DocumentReference),
		"outcome", result.OperationOutcome.Text(),
	)
	return result
}

// storeDocuments hands every retrieved payload to the sink. A document that
// cannot be stored stays in the result without a URI and gains an issue.
func (d *Dispatcher) storeDocuments(ctx context.Context, req *ihe.OutboundDocumentRetrievalRequest, result *ihe.DocumentRetrievalResult, alert Alert) {
	if d.sink == nil {
		return
	}
	for i := range result.DocumentReference {
		doc := &result.DocumentReference[i]
		if len(doc.Content) == 0 {
			continue
		}
		key := docstore.ObjectKey(req.CxID, req.PatientID, doc.Key(), doc.ContentType)
		saved, err := d.sink.Save(ctx, key, doc.Content, doc.ContentType)
		if err != nil {
			alert.Message = "failed to store retrieved document"
			alert.Err = err
			d.reporter.Report(ctx, alert)
			result.OperationOutcome = result.OperationOutcome.Append(req.ID, ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing,
				fmt.Sprintf("document %s could not be stored: %v", doc.Key(), err)))
			continue
		}
		doc.URI = saved.URI
		doc.StorageKey = saved.Key
	}
}
