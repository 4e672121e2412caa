package xca

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/security"
)

// paramDecoder applies the values of one stored query parameter to req
type paramDecoder func(req *ihe.InboundDocumentQueryRequest, values []string) error

// paramDecoders is the closed set of parameters the gateway understands.
// Names missing from the table are ignored.
var paramDecoders = map[string]paramDecoder{
	ParamPatientID:        decodePatientID,
	ParamClassCode:        decodeCodes(func(r *ihe.InboundDocumentQueryRequest) *[]ihe.Code { return &r.ClassCode }),
	ParamTypeCode:         decodeCodes(func(r *ihe.InboundDocumentQueryRequest) *[]ihe.Code { return &r.TypeCode }),
	ParamPracticeSetting:  decodeCodes(func(r *ihe.InboundDocumentQueryRequest) *[]ihe.Code { return &r.PracticeSettingCode }),
	ParamFacilityType:     decodeCodes(func(r *ihe.InboundDocumentQueryRequest) *[]ihe.Code { return &r.FacilityTypeCode }),
	ParamServiceStartFrom: decodeTime(serviceDate, true),
	ParamServiceStartTo:   decodeTime(serviceDate, false),
	ParamServiceStopFrom:  decodeTime(serviceDate, true),
	ParamServiceStopTo:    decodeTime(serviceDate, false),
	ParamCreationTimeFrom: decodeTime(creationDate, true),
	ParamCreationTimeTo:   decodeTime(creationDate, false),
	ParamStatus:           ignore,
	ParamType:             ignore,
}

// ParseQueryRequest reads an inbound ITI-38 request. On a
// *message.ValidationError the partially read request is still returned so
// the registry error response can reference it.
func ParseQueryRequest(parsed *message.Parsed, defaults ihe.SecurityAssertion) (*ihe.InboundDocumentQueryRequest, error) {
	req := &ihe.InboundDocumentQueryRequest{
		MessageID:      message.Text(parsed.Header, "MessageID"),
		SamlAttributes: security.ExtractAssertion(parsed.Header, defaults),
		Signature:      security.SignatureValue(parsed.Header),
		Timestamp:      time.Now().UTC(),
		ReturnType:     ihe.ReturnLeafClass,
	}
	req.ID = req.MessageID

	payload := parsed.Payload()
	if payload == nil || payload.Tag != "AdhocQueryRequest" {
		return req, unexpected("AdhocQueryRequest", payload)
	}
	if id := message.Attr(payload, "id"); id != "" {
		req.ID = id
	}
	if rt := ihe.ReturnType(message.AttrAt(payload, "returnType", "ResponseOption")); rt == ihe.ReturnObjectRef {
		req.ReturnType = rt
	}

	query := payload.SelectElement("AdhocQuery")
	if query == nil {
		return req, &message.ValidationError{Violations: []string{"AdhocQuery is required"}}
	}

	var violations []string
	for _, slot := range query.SelectElements("Slot") {
		name := message.Attr(slot, "name")
		decode, ok := paramDecoders[name]
		if !ok {
			continue
		}
		if err := decode(req, splitSlotValues(slotValues(slot))); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if req.ExternalGatewayPatient.ID == "" {
		violations = append(violations, ParamPatientID+" is required")
	}
	if len(violations) > 0 {
		return req, &message.ValidationError{Violations: violations}
	}
	return req, nil
}

// RetrieveOptions configures inbound ITI-39 parsing
type RetrieveOptions struct {
	// Multipart is set when the request arrived as multipart/related
	Multipart bool
	Defaults  ihe.SecurityAssertion
}

// ParseRetrieveRequest reads an inbound ITI-39 request
func ParseRetrieveRequest(parsed *message.Parsed, opts RetrieveOptions) (*ihe.InboundDocumentRetrievalRequest, error) {
	req := &ihe.InboundDocumentRetrievalRequest{
		MessageID:        message.Text(parsed.Header, "MessageID"),
		SamlAttributes:   security.ExtractAssertion(parsed.Header, opts.Defaults),
		Signature:        security.SignatureValue(parsed.Header),
		Timestamp:        time.Now().UTC(),
		AcceptsMultipart: opts.Multipart,
	}
	req.ID = req.MessageID

	payload := parsed.Payload()
	if payload == nil || payload.Tag != "RetrieveDocumentSetRequest" {
		return req, unexpected("RetrieveDocumentSetRequest", payload)
	}

	var violations []string
	for i, el := range payload.SelectElements("DocumentRequest") {
		ref := ihe.DocumentReference{
			HomeCommunityID:    ihe.NormalizeOID(message.Text(el, "HomeCommunityId")),
			RepositoryUniqueID: ihe.NormalizeOID(message.Text(el, "RepositoryUniqueId")),
			DocUniqueID:        ihe.NormalizeOID(message.Text(el, "DocumentUniqueId")),
		}
		if ref.DocUniqueID == "" {
			violations = append(violations, fmt.Sprintf("DocumentRequest %d: DocumentUniqueId is required", i+1))
			continue
		}
		req.DocumentReference = append(req.DocumentReference, ref)
	}
	if len(req.DocumentReference) == 0 && len(violations) == 0 {
		violations = append(violations, "at least one DocumentRequest is required")
	}
	if len(violations) > 0 {
		return req, &message.ValidationError{Violations: violations}
	}
	return req, nil
}

func unexpected(want string, payload *etree.Element) error {
	tag := "empty body"
	if payload != nil {
		tag = payload.Tag
	}
	return &message.ValidationError{Violations: []string{fmt.Sprintf("expected %s, got %s", want, tag)}}
}

// splitSlotValues flattens slot values such as ('a','b') into a, b
func splitSlotValues(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		v = strings.TrimSuffix(strings.TrimPrefix(v, "("), ")")
		for _, item := range strings.Split(v, ",") {
			item = strings.Trim(strings.TrimSpace(item), "'")
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func decodePatientID(req *ihe.InboundDocumentQueryRequest, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("no value")
	}
	id, authority, _ := strings.Cut(values[0], "^^^")
	if id == "" {
		return fmt.Errorf("malformed patient id %q", values[0])
	}
	// authority is &system&ISO
	parts := strings.Split(authority, "&")
	system := ""
	if len(parts) > 1 {
		system = parts[1]
	}
	req.ExternalGatewayPatient = ihe.ExternalGatewayPatient{ID: id, System: ihe.NormalizeOID(system)}
	return nil
}

func decodeCodes(field func(*ihe.InboundDocumentQueryRequest) *[]ihe.Code) paramDecoder {
	return func(req *ihe.InboundDocumentQueryRequest, values []string) error {
		codes := field(req)
		for _, v := range values {
			code, system, _ := strings.Cut(v, "^^")
			*codes = append(*codes, ihe.Code{Code: code, System: ihe.NormalizeOID(system)})
		}
		return nil
	}
}

func serviceDate(r *ihe.InboundDocumentQueryRequest) **ihe.DateRange  { return &r.ServiceDate }
func creationDate(r *ihe.InboundDocumentQueryRequest) **ihe.DateRange { return &r.DocumentCreationDate }

func decodeTime(field func(*ihe.InboundDocumentQueryRequest) **ihe.DateRange, from bool) paramDecoder {
	return func(req *ihe.InboundDocumentQueryRequest, values []string) error {
		if len(values) == 0 {
			return nil
		}
		t, err := message.ParseHL7Time(values[0])
		if err != nil {
			return err
		}
		r := field(req)
		if *r == nil {
			*r = &ihe.DateRange{}
		}
		if from {
			(*r).From = t
		} else {
			(*r).To = t
		}
		return nil
	}
}

func ignore(*ihe.InboundDocumentQueryRequest, []string) error { return nil }
