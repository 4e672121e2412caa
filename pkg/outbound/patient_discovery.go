package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/metriport/ihe-gateway/pkg/directory"
	"github.com/metriport/ihe-gateway/pkg/docstore"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/xcpd"
)

// PatientDiscovery sends req to every gateway it lists and returns one
// result per gateway, in the order of req.Gateways. Only an invalid request
// is an error.
//
// The exchange is detached from ctx: cancelling the caller does not stop
// gateways already being contacted.
func (d *Dispatcher) PatientDiscovery(ctx context.Context, req *ihe.OutboundPatientDiscoveryRequest) ([]ihe.PatientDiscoveryResult, error) {
	r, err := d.preparePatientDiscovery(req)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.PatientDiscovery, r.ID, r.PatientID, r.CxID, len(r.Gateways))
	return d.discoverPatients(ctx, r), nil
}

// StartPatientDiscovery validates req and returns; the exchange continues
// in the background and its results land in the correlation store.
func (d *Dispatcher) StartPatientDiscovery(ctx context.Context, req *ihe.OutboundPatientDiscoveryRequest) error {
	r, err := d.preparePatientDiscovery(req)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	d.begin(ctx, ihe.PatientDiscovery, r.ID, r.PatientID, r.CxID, len(r.Gateways))
	d.background(func() { d.discoverPatients(ctx, r) })
	return nil
}

func (d *Dispatcher) preparePatientDiscovery(req *ihe.OutboundPatientDiscoveryRequest) (*ihe.OutboundPatientDiscoveryRequest, error) {
	r := *req
	r.SamlAttributes = r.SamlAttributes.WithDefaults(d.cfg.Assertion)
	if r.Timestamp.IsZero() {
		r.Timestamp = now()
	}
	if err := d.validate.Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid patient discovery request: %w", err)
	}
	return &r, nil
}

func (d *Dispatcher) discoverPatients(ctx context.Context, r *ihe.OutboundPatientDiscoveryRequest) []ihe.PatientDiscoveryResult {
	return fanOut(d, len(r.Gateways), func(i int) ihe.PatientDiscoveryResult {
		result := d.discoverPatient(ctx, r, r.Gateways[i])
		d.record(ctx, r.ID, result)
		d.archivePatientDiscovery(ctx, r, result)
		return result
	})
}

// archivePatientDiscovery files the result under the day the request was
// made. Failures are logged only.
func (d *Dispatcher) archivePatientDiscovery(ctx context.Context, req *ihe.OutboundPatientDiscoveryRequest, result ihe.PatientDiscoveryResult) {
	if d.archive == nil {
		return
	}
	date := req.Timestamp
	if date.IsZero() {
		date = now()
	}
	_, err := d.archive.Put(ctx, docstore.Entry{
		CxID:      req.CxID,
		PatientID: req.PatientID,
		Stage:     "pd",
		Date:      date,
		Name:      req.ID + "_" + ihe.NormalizeOID(result.Gateway.HomeCommunityID),
		Payload:   result,
	})
	if err != nil {
		d.logger.Warn("failed to archive patient discovery result",
			"request_id", req.ID,
			"gateway", result.Gateway.HomeCommunityID,
			"error", err,
		)
	}
}

func (d *Dispatcher) discoverPatient(ctx context.Context, req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway) ihe.PatientDiscoveryResult {
	alert := Alert{
		Transaction: ihe.PatientDiscovery,
		RequestID:   req.ID,
		CxID:        req.CxID,
		PatientID:   req.PatientID,
		Gateway:     gw,
	}

	resolved, err := directory.Resolve(ctx, d.directory, gw, ihe.PatientDiscovery)
	if err != nil {
		d.logger.Info("gateway not resolved", "request_id", req.ID, "gateway", gw.HomeCommunityID, "error", err)
		return xcpd.ErrorResult(req, gw, unresolvedIssue(err))
	}
	gw = resolved
	alert.Gateway = gw

	opts := xcpd.RequestOptions{
		HomeCommunityID:  d.cfg.HomeCommunityID,
		OrganizationName: d.cfg.OrganizationName,
		ProcessingCode:   d.cfg.ProcessingCode,
	}
	resp, err := d.send(ctx, exchange{
		tx:      ihe.PatientDiscovery,
		gw:      gw,
		action:  message.ActionXCPD,
		timeout: d.cfg.PatientDiscoveryTimeout,
		build: func() (*message.Envelope, error) {
			env, err := xcpd.BuildRequest(req, gw, opts)
			if err != nil {
				return nil, err
			}
			return env, d.sign(env, req.SamlAttributes, gw)
		},
	})
	if err != nil {
		return xcpd.ErrorResult(req, gw, d.failed(ctx, alert, err))
	}

	result, c := xcpd.ProcessResponse(req, gw, resp.Body)
	if c.Reportable() {
		alert.Message = "patient discovery " + c.String()
		alert.Err = errors.New(result.OperationOutcome.Text())
		d.reporter.Report(ctx, alert)
	}
	d.logger.Debug("patient discovery result",
		"request_id", req.ID,
		"gateway", gw.HomeCommunityID,
		"case", c.String(),
		"patient_match", result.PatientMatch,
	)
	return result
}
