package xca

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// FindDocumentsQuery is the stored query id of FindDocuments
const FindDocumentsQuery = "urn:uuid:14d4debf-8f97-4251-9a74-a90016b0af0d"

// Stored query parameter names
const (
	ParamPatientID        = "$XDSDocumentEntryPatientId"
	ParamStatus           = "$XDSDocumentEntryStatus"
	ParamType             = "$XDSDocumentEntryType"
	ParamClassCode        = "$XDSDocumentEntryClassCode"
	ParamTypeCode         = "$XDSDocumentEntryTypeCode"
	ParamPracticeSetting  = "$XDSDocumentEntryPracticeSettingCode"
	ParamFacilityType     = "$XDSDocumentEntryHealthcareFacilityTypeCode"
	ParamServiceStartFrom = "$XDSDocumentEntryServiceStartTimeFrom"
	ParamServiceStartTo   = "$XDSDocumentEntryServiceStartTimeTo"
	ParamServiceStopFrom  = "$XDSDocumentEntryServiceStopTimeFrom"
	ParamServiceStopTo    = "$XDSDocumentEntryServiceStopTimeTo"
	ParamCreationTimeFrom = "$XDSDocumentEntryCreationTimeFrom"
	ParamCreationTimeTo   = "$XDSDocumentEntryCreationTimeTo"
)

// BuildQueryRequest creates the unsigned ITI-38 FindDocuments envelope for req
func BuildQueryRequest(req *ihe.OutboundDocumentQueryRequest) (*message.Envelope, error) {
	if req.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway %s has no endpoint", req.Gateway.HomeCommunityID)
	}
	patient := patientIDValue(req.ExternalGatewayPatient)
	if patient == "" {
		return nil, fmt.Errorf("external gateway patient id is required")
	}
	returnType := req.ReturnType
	if returnType == "" {
		returnType = ihe.ReturnLeafClass
	}
	messageID := ihe.WrapUUID(uuid.NewString())

	root := message.Element("query:AdhocQueryRequest",
		"xmlns:query", message.NsQuery,
		"xmlns:rim", message.NsRIM,
		"xmlns:rs", message.NsRS,
		"federated", "false",
		"id", messageID,
		"maxResults", "-1",
		"startIndex", "0",
	)
	message.Add(root, "query:ResponseOption", "returnComposedObjects", "true", "returnType", string(returnType))
	query := message.Add(root, "rim:AdhocQuery",
		"home", ihe.WrapOID(req.Gateway.HomeCommunityID),
		"id", FindDocumentsQuery,
	)

	writeSlot(query, ParamPatientID, quote(patient))
	writeSlot(query, ParamStatus, "('"+statusApproved+"')")
	writeSlot(query, ParamType, "('"+objectTypeStable+"','"+objectTypeOnDemand+"')")
	writeSlot(query, ParamClassCode, codeList(req.ClassCode))
	writeSlot(query, ParamPracticeSetting, codeList(req.PracticeSettingCode))
	writeSlot(query, ParamFacilityType, codeList(req.FacilityTypeCode))
	writeRange(query, ParamServiceStartFrom, ParamServiceStartTo, req.ServiceDate)
	writeRange(query, ParamCreationTimeFrom, ParamCreationTimeTo, req.DocumentCreationDate)

	return message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			To:        req.Gateway.URL,
			Action:    message.ActionXCAQuery,
			MessageID: messageID,
			ReplyTo:   message.AnonymousAddress,
		}),
		message.WithBody(root),
	), nil
}

func quote(v string) string {
	return "'" + v + "'"
}

// codeList formats codes as ('code^^system','code^^system')
func codeList(codes []ihe.Code) string {
	values := make([]string, 0, len(codes))
	for _, c := range codes {
		if c.Code == "" {
			continue
		}
		values = append(values, quote(c.Code+"^^"+ihe.NormalizeOID(c.System)))
	}
	if len(values) == 0 {
		return ""
	}
	return "(" + strings.Join(values, ",") + ")"
}

func writeRange(parent *etree.Element, from, to string, r *ihe.DateRange) {
	if r.IsZero() {
		return
	}
	if !r.From.IsZero() {
		writeSlot(parent, from, message.FormatHL7Time(r.From))
	}
	if !r.To.IsZero() {
		writeSlot(parent, to, message.FormatHL7Time(r.To))
	}
}

// QueryResponse is the decoded content of an AdhocQueryResponse
type QueryResponse struct {
	Status     Status
	Documents  []ihe.DocumentReference
	Issues     []ihe.Issue
	RawStatus  string
	ObjectRefs bool
}

// ErrUnexpectedPayload is returned when the body is not the expected message
var ErrUnexpectedPayload = errors.New("unexpected payload")

// ParseQueryResponse decodes an AdhocQueryResponse. fallbackHome fills in
// entries without a home attribute.
func ParseQueryResponse(parsed *message.Parsed, fallbackHome string) (*QueryResponse, error) {
	payload := parsed.Payload()
	if payload == nil || payload.Tag != "AdhocQueryResponse" {
		return nil, fmt.Errorf("%w: expected AdhocQueryResponse", ErrUnexpectedPayload)
	}
	resp := &QueryResponse{
		RawStatus: message.Attr(payload, "status"),
	}
	resp.Status = ParseStatus(resp.RawStatus)
	resp.Issues = readRegistryErrors(payload.SelectElement("RegistryErrorList"))

	list := payload.SelectElement("RegistryObjectList")
	var missing int
	for _, obj := range message.Children(list, "ExtrinsicObject") {
		ref, ok := readEntry(obj, fallbackHome)
		if !ok {
			missing++
			continue
		}
		resp.Documents = append(resp.Documents, ref)
	}
	for _, obj := range message.Children(list, "ObjectRef") {
		if ref, ok := readObjectRef(obj, fallbackHome); ok {
			resp.ObjectRefs = true
			resp.Documents = append(resp.Documents, ref)
		}
	}
	if missing > 0 {
		resp.Issues = append(resp.Issues, ihe.NewIssue(ihe.SeverityWarning, ihe.CodeProcessing,
			fmt.Sprintf("%d document entries without a unique id were skipped", missing)))
	}
	return resp, nil
}

// ProcessQueryResponse turns a gateway's raw ITI-38 answer into a
// DocumentQueryResult. It never fails; every problem becomes an issue.
func ProcessQueryResponse(req *ihe.OutboundDocumentQueryRequest, raw []byte) ihe.DocumentQueryResult {
	result := QueryResult(req)

	parsed, err := message.Parse(raw)
	var fault *message.Fault
	if errors.As(err, &fault) {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, fault.Issue())
		return result
	}
	if err != nil {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, invalidResponse("query", err))
		return result
	}

	resp, err := ParseQueryResponse(parsed, req.Gateway.HomeCommunityID)
	if err != nil {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, invalidResponse("query", err))
		return result
	}

	issues := resp.Issues
	switch resp.Status {
	case StatusUnknown:
		issues = append(issues, ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing,
			fmt.Sprintf("unknown response status %q", resp.RawStatus)))
	case StatusFailure:
		issues = ensureFailureError(resp.Status, issues)
	case StatusSuccess:
		if len(resp.Documents) == 0 && len(issues) == 0 {
			issues = append(issues, ihe.NewIssue(ihe.SeverityInformation, ihe.CodeNotFound, "no documents found"))
		}
	}

	result.DocumentReference = resp.Documents
	result.OperationOutcome = ihe.NewOperationOutcome(req.ID, issues...)
	return result
}

// QueryResult is the empty result skeleton for req, also used for gateways
// that could not be reached.
func QueryResult(req *ihe.OutboundDocumentQueryRequest) ihe.DocumentQueryResult {
	patient := req.ExternalGatewayPatient
	return ihe.DocumentQueryResult{
		ID:                     req.ID,
		Timestamp:              req.Timestamp,
		ResponseTimestamp:      time.Now().UTC(),
		Gateway:                req.Gateway,
		PatientID:              req.PatientID,
		ExternalGatewayPatient: &patient,
	}
}

func invalidResponse(kind string, err error) ihe.Issue {
	return ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing, "invalid "+kind+" response: "+err.Error())
}
