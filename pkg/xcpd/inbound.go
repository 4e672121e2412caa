package xcpd

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/security"
)

// ErrProcessingMode is returned when the request's processingCode is not
// one the gateway accepts.
var ErrProcessingMode = errors.New("unsupported processing code")

// InboundOptions configures inbound request parsing
type InboundOptions struct {
	// ProcessingCodes are the accepted processingCode values, default P
	ProcessingCodes []string
	// Defaults replace assertion attributes the sender omitted
	Defaults ihe.SecurityAssertion
}

// ParseRequest reads an inbound ITI-55 request. On ErrProcessingMode or a
// *message.ValidationError the partially read request is still returned so
// a negative acknowledgement can reference it.
func ParseRequest(parsed *message.Parsed, opts InboundOptions) (*ihe.InboundPatientDiscoveryRequest, error) {
	req := &ihe.InboundPatientDiscoveryRequest{
		MessageID:      message.Text(parsed.Header, "MessageID"),
		SamlAttributes: security.ExtractAssertion(parsed.Header, opts.Defaults),
		Signature:      security.SignatureValue(parsed.Header),
		Timestamp:      time.Now().UTC(),
	}
	req.ID = req.MessageID

	payload := parsed.Payload()
	if payload == nil || payload.Tag != "PRPA_IN201305UV02" {
		tag := "empty body"
		if payload != nil {
			tag = payload.Tag
		}
		return req, &message.ValidationError{Violations: []string{
			fmt.Sprintf("expected PRPA_IN201305UV02, got %s", tag),
		}}
	}

	query := message.Child(payload, "controlActProcess", "queryByParameter")
	if id := message.AttrAt(query, "extension", "queryId"); id != "" {
		req.ID = id
	} else if id := message.AttrAt(payload, "extension", "id"); id != "" {
		req.ID = id
	}
	if created := message.AttrAt(payload, "value", "creationTime"); created != "" {
		if t, err := message.ParseHL7Time(created); err == nil {
			req.Timestamp = t
		}
	}
	req.Sender = ihe.NormalizeOID(message.AttrAt(payload, "root", "sender", "device", "id"))
	req.PatientResource = readParameterList(message.Child(query, "parameterList"))

	allowed := opts.ProcessingCodes
	if len(allowed) == 0 {
		allowed = []string{ProcessingProduction}
	}
	if code := message.AttrAt(payload, "code", "processingCode"); !slices.Contains(allowed, code) {
		return req, fmt.Errorf("%w: %q", ErrProcessingMode, code)
	}

	var violations []string
	if query == nil {
		violations = append(violations, "controlActProcess/queryByParameter is required")
	}
	if !hasName(req.PatientResource.Name) {
		violations = append(violations, "livingSubjectName is required")
	}
	if req.PatientResource.BirthDate == "" {
		violations = append(violations, "livingSubjectBirthTime is required")
	}
	if len(violations) > 0 {
		return req, &message.ValidationError{Violations: violations}
	}
	return req, nil
}

func hasName(names []ihe.Name) bool {
	for _, n := range names {
		if n.Family != "" || len(n.Given) > 0 {
			return true
		}
	}
	return false
}
