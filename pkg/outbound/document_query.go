package outbound

import (
	"context"
	"fmt"

	"github.com/metriport/ihe-gateway/pkg/directory"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/xca"
)

// DocumentQuery sends each request to its gateway and returns one result
// per request, in order. All requests must share one request id.
func (d *Dispatcher) DocumentQuery(ctx context.Context, reqs []ihe.OutboundDocumentQueryRequest) ([]ihe.DocumentQueryResult, error) {
	prepared, err := d.prepareDocumentQuery(reqs)
	if err != nil {
		return nil, err
	}
	first := prepared[0]
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.DocumentQuery, first.ID, first.PatientID, first.CxID, len(prepared))
	return d.runDocumentQuery(ctx, prepared), nil
}

// StartDocumentQuery validates reqs and returns; the exchanges continue in the
// background and their results land in the correlation store.
func (d *Dispatcher) StartDocumentQuery(ctx context.Context, reqs []ihe.OutboundDocumentQueryRequest) error {
	prepared, err := d.prepareDocumentQuery(reqs)
	if err != nil {
		return err
	}
	first := prepared[0]
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.DocumentQuery, first.ID, first.PatientID, first.CxID, len(prepared))
	d.background(func() { d.runDocumentQuery(ctx, prepared) })
	return nil
}

func (d *Dispatcher) prepareDocumentQuery(reqs []ihe.OutboundDocumentQueryRequest) ([]ihe.OutboundDocumentQueryRequest, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("invalid document query request: no gateways")
	}
	prepared := make([]ihe.OutboundDocumentQueryRequest, len(reqs))
	for i, req := range reqs {
		req.SamlAttributes = req.SamlAttributes.WithDefaults(d.cfg.Assertion)
		if req.Timestamp.IsZero() {
			req.Timestamp = now()
		}
		if err := d.validate.Struct(&req); err != nil {
			return nil, fmt.Errorf("invalid document query request %d: %w", i, err)
		}
		if req.ID != reqs[0].ID {
			return nil, fmt.Errorf("invalid document query request %d: request id %s differs from %s", i, req.ID, reqs[0].ID)
		}
		prepared[i] = req
	}
	return prepared, nil
}

func (d *Dispatcher) runDocumentQuery(ctx context.Context, prepared []ihe.OutboundDocumentQueryRequest) []ihe.DocumentQueryResult {
	id := prepared[0].ID
	return fanOut(d, len(prepared), func(i int) ihe.DocumentQueryResult {
		result := d.queryDocuments(ctx, prepared[i])
		d.record(ctx, id, result)
		return result
	})
}

func (d *Dispatcher) queryDocuments(ctx context.Context, req ihe.OutboundDocumentQueryRequest) ihe.DocumentQueryResult {
	alert := Alert{
		Transaction: ihe.DocumentQuery,
		RequestID:   req.ID,
		CxID:        req.CxID,
		PatientID:   req.PatientID,
		Gateway:     req.Gateway,
	}

	gw, err := directory.Resolve(ctx, d.directory, req.Gateway, ihe.DocumentQuery)
	if err != nil {
		d.logger.Info("gateway not resolved", "request_id", req.ID, "gateway", req.Gateway.HomeCommunityID, "error", err)
		result := xca.QueryResult(&req)
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, unresolvedIssue(err))
		return result
	}
	req.Gateway = gw
	alert.Gateway = gw

	resp, err := d.send(ctx, exchange{
		tx:      ihe.DocumentQuery,
		gw:      gw,
		action:  message.ActionXCAQuery,
		timeout: d.cfg.DocumentQueryTimeout,
		build: func() (*message.Envelope, error) {
			env, err := xca.BuildQueryRequest(&req)
			if err != nil {
				return nil, err
			}
			return env, d.sign(env, req.SamlAttributes, gw)
		},
	})
	if err != nil {
		result := xca.QueryResult(&req)
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, d.failed(ctx, alert, err))
		return result
	}

	result := xca.ProcessQueryResponse(&req, resp.Body)
	d.logger.Debug("document query result",
		"request_id", req.ID,
		"gateway", gw.HomeCommunityID,
		"documents", len(result.DocumentReference),
		"outcome", result.OperationOutcome.Text(),
	)
	return result
}
