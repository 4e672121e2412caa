package xcpd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// Acknowledgement type codes
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// Query response codes
const (
	QueryOK       = "OK"
	QueryNotFound = "NF"
	QueryError    = "AE"
	QueryQE       = "QE"
)

// Case is the classification of one gateway's patient discovery answer
type Case int

const (
	CaseMatch Case = iota + 1
	CaseMultipleMatches
	CaseAmbiguous
	CaseNoMatch
	CaseNoAck
	CaseError
)

func (c Case) String() string {
	switch c {
	case CaseMatch:
		return "match"
	case CaseMultipleMatches:
		return "multiple-matches"
	case CaseAmbiguous:
		return "ambiguous"
	case CaseNoMatch:
		return "no-match"
	case CaseNoAck:
		return "no-ack"
	case CaseError:
		return "error"
	}
	return fmt.Sprintf("case(%d)", int(c))
}

// Reportable reports whether the case is an operational error that needs
// operator attention rather than a normal answer.
func (c Case) Reportable() bool {
	return c == CaseMultipleMatches || c == CaseAmbiguous
}

// Classify maps the acknowledgement code, query response code, number of
// returned subjects and whether the responder asked for a refined query
// onto exactly one Case.
func Classify(ack, queryResponseCode string, subjects int, refineRequested bool) Case {
	if ack == "" && queryResponseCode == "" {
		return CaseNoAck
	}
	if ack != AckAccept {
		return CaseError
	}
	switch {
	case queryResponseCode == QueryOK && subjects == 1:
		return CaseMatch
	case subjects > 1:
		return CaseMultipleMatches
	case refineRequested:
		return CaseAmbiguous
	case queryResponseCode == QueryNotFound && subjects == 0:
		return CaseNoMatch
	}
	return CaseError
}

// Response holds the parts of a PRPA_IN201306UV02 the classifier needs
type Response struct {
	Ack               string
	QueryResponseCode string
	// Patients are the registrationEvent/subject1/patient elements
	Patients []*etree.Element
	// RefineRequested is set when a detected issue asks for more
	// demographics
	RefineRequested bool
	// Details are the acknowledgement details and detected issue codes
	Details []ihe.Issue
}

// Case classifies the response
func (r *Response) Case() Case {
	return Classify(r.Ack, r.QueryResponseCode, len(r.Patients), r.RefineRequested)
}

// ErrUnexpectedPayload is returned when the body is not a PRPA_IN201306UV02
var ErrUnexpectedPayload = errors.New("unexpected XCPD response payload")

// ParseResponse extracts a Response from a parsed envelope
func ParseResponse(parsed *message.Parsed) (*Response, error) {
	payload := parsed.Payload()
	if payload == nil || payload.Tag != "PRPA_IN201306UV02" {
		return nil, ErrUnexpectedPayload
	}

	r := &Response{
		Ack: message.AttrAt(payload, "code", "acknowledgement", "typeCode"),
	}
	for _, detail := range message.Children(payload, "acknowledgementDetail", "acknowledgement") {
		code := message.AttrAt(detail, "code", "code")
		text := message.Text(detail, "text")
		if code == "" && text == "" {
			continue
		}
		if code == "" {
			code = ihe.CodeProcessing
		}
		if text == "" {
			text = code
		}
		r.Details = append(r.Details, ihe.NewIssue(ihe.SeverityError, code, text))
	}

	control := payload.SelectElement("controlActProcess")
	if control == nil {
		return r, nil
	}
	r.QueryResponseCode = message.AttrAt(control, "code", "queryAck", "queryResponseCode")

	for _, subject := range control.SelectElements("subject") {
		if patient := message.Child(subject, "registrationEvent", "subject1", "patient"); patient != nil {
			r.Patients = append(r.Patients, patient)
		}
	}

	for _, reason := range control.SelectElements("reasonOf") {
		event := reason.SelectElement("detectedIssueEvent")
		if event == nil {
			continue
		}
		for _, trigger := range event.SelectElements("triggerFor") {
			code := message.AttrAt(trigger, "code", "actOrderRequired", "code")
			if code == "" {
				continue
			}
			if strings.HasSuffix(code, "Requested") {
				r.RefineRequested = true
			}
			r.Details = append(r.Details, ihe.NewIssue(ihe.SeverityError, code, code))
		}
		for _, mitigated := range event.SelectElements("mitigatedBy") {
			if code := message.AttrAt(mitigated, "code", "detectedIssueManagement", "code"); code != "" {
				r.Details = append(r.Details, ihe.NewIssue(ihe.SeverityError, code, code))
			}
		}
	}
	return r, nil
}

// ProcessResponse classifies one gateway's raw answer and builds the
// normalized result for it. The Case is returned so the caller can decide
// whether operators need to hear about it.
func ProcessResponse(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, raw []byte) (ihe.PatientDiscoveryResult, Case) {
	parsed, err := message.Parse(raw)
	var fault *message.Fault
	if errors.As(err, &fault) {
		return errorResult(req, gw, fault.Issue()), CaseError
	}
	if err != nil {
		return errorResult(req, gw, invalidResponse(err)), CaseError
	}

	resp, err := ParseResponse(parsed)
	if err != nil {
		return errorResult(req, gw, invalidResponse(err)), CaseError
	}

	c := resp.Case()
	switch c {
	case CaseMatch:
		result, ok := handleMatch(req, gw, resp.Patients[0])
		if !ok {
			return result, CaseError
		}
		return result, c
	case CaseNoMatch:
		return handleNoMatch(req, gw), c
	case CaseMultipleMatches:
		return handleMultipleMatches(req, gw, len(resp.Patients)), c
	case CaseAmbiguous:
		return handleAmbiguous(req, gw, resp), c
	default:
		return handleError(req, gw, resp), c
	}
}

// ErrorResult builds the result for a gateway that could not be reached or
// answered with something unusable.
func ErrorResult(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, issue ihe.Issue) ihe.PatientDiscoveryResult {
	return errorResult(req, gw, issue)
}

func baseResult(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway) ihe.PatientDiscoveryResult {
	return ihe.PatientDiscoveryResult{
		ID:                req.ID,
		Timestamp:         req.Timestamp,
		ResponseTimestamp: time.Now().UTC(),
		Gateway:           gw,
		PatientID:         req.PatientID,
	}
}

func errorResult(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, issues ...ihe.Issue) ihe.PatientDiscoveryResult {
	result := baseResult(req, gw)
	result.OperationOutcome = ihe.NewOperationOutcome(req.ID, issues...)
	return result
}

func invalidResponse(err error) ihe.Issue {
	return ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing, "invalid XCPD response: "+err.Error())
}

func handleMatch(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, patient *etree.Element) (ihe.PatientDiscoveryResult, bool) {
	id := message.AttrAt(patient, "extension", "id")
	system := ihe.NormalizeOID(message.AttrAt(patient, "root", "id"))
	if id == "" {
		return errorResult(req, gw, ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing,
			"matched patient carries no identifier")), false
	}

	resource := readPatientPerson(patient.SelectElement("patientPerson"))

	result := baseResult(req, gw)
	result.PatientMatch = true
	result.GatewayPatientID = id
	result.GatewayHomeCommunityID = ihe.NormalizeOID(gw.HomeCommunityID)
	result.ExternalGatewayPatient = &ihe.ExternalGatewayPatient{ID: id, System: system}
	result.PatientResource = &resource
	return result, true
}

func handleNoMatch(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway) ihe.PatientDiscoveryResult {
	return errorResult(req, gw, ihe.NewIssue(ihe.SeverityInformation, ihe.CodeNotFound, QueryNotFound))
}

func handleMultipleMatches(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, n int) ihe.PatientDiscoveryResult {
	return errorResult(req, gw, ihe.NewIssue(ihe.SeverityError, ihe.CodeMultipleMatch,
		fmt.Sprintf("gateway returned %d matching patients", n)))
}

func handleAmbiguous(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, resp *Response) ihe.PatientDiscoveryResult {
	var requested []string
	for _, d := range resp.Details {
		if strings.HasSuffix(d.Code, "Requested") {
			requested = append(requested, d.Code)
		}
	}
	return errorResult(req, gw, ihe.NewIssue(ihe.SeverityError, ihe.CodeRefineQuery,
		"gateway asked for a refined query: "+strings.Join(requested, ", ")))
}

func handleError(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, resp *Response) ihe.PatientDiscoveryResult {
	if len(resp.Details) > 0 {
		return errorResult(req, gw, resp.Details...)
	}

	text := "response carried no acknowledgement"
	if resp.Ack != "" || resp.QueryResponseCode != "" {
		text = fmt.Sprintf("acknowledgement %s, query response %s", orNone(resp.Ack), orNone(resp.QueryResponseCode))
	}
	code := resp.QueryResponseCode
	if code == "" {
		code = ihe.CodeProcessing
	}
	return errorResult(req, gw, ihe.NewIssue(ihe.SeverityError, code, text))
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
