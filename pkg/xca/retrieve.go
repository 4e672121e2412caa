package xca

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/mime"
)

// BuildRetrieveRequest creates the unsigned ITI-39 envelope with one
// DocumentRequest per reference in req.
func BuildRetrieveRequest(req *ihe.OutboundDocumentRetrievalRequest) (*message.Envelope, error) {
	if req.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway %s has no endpoint", req.Gateway.HomeCommunityID)
	}
	if len(req.DocumentReference) == 0 {
		return nil, fmt.Errorf("at least one document reference is required")
	}

	root := message.Element("xds:RetrieveDocumentSetRequest", "xmlns:xds", message.NsXDS)
	for _, ref := range req.DocumentReference {
		home := ref.HomeCommunityID
		if home == "" {
			home = req.Gateway.HomeCommunityID
		}
		doc := message.Add(root, "xds:DocumentRequest")
		message.AddText(doc, "xds:HomeCommunityId", ihe.WrapOID(home))
		message.AddText(doc, "xds:RepositoryUniqueId", ihe.NormalizeOID(ref.RepositoryUniqueID))
		message.AddText(doc, "xds:DocumentUniqueId", ihe.NormalizeOID(ref.DocUniqueID))
	}

	return message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			To:        req.Gateway.URL,
			Action:    message.ActionXCARetrieve,
			MessageID: ihe.WrapUUID(uuid.NewString()),
			ReplyTo:   message.AnonymousAddress,
		}),
		message.WithBody(root),
	), nil
}

// RetrieveResponse is the decoded content of a RetrieveDocumentSetResponse
type RetrieveResponse struct {
	Status    Status
	RawStatus string
	Documents []ihe.DocumentReference
	Issues    []ihe.Issue
}

// ParseRetrieveResponse decodes a RetrieveDocumentSetResponse. Document
// bytes are resolved from msg whether they were inlined or sent as MTOM
// parts; a document whose bytes cannot be resolved becomes an issue.
func ParseRetrieveResponse(parsed *message.Parsed, msg *mime.Message) (*RetrieveResponse, error) {
	payload := parsed.Payload()
	if payload == nil || payload.Tag != "RetrieveDocumentSetResponse" {
		return nil, fmt.Errorf("%w: expected RetrieveDocumentSetResponse", ErrUnexpectedPayload)
	}
	registry := payload.SelectElement("RegistryResponse")
	resp := &RetrieveResponse{RawStatus: message.Attr(registry, "status")}
	resp.Status = ParseStatus(resp.RawStatus)
	resp.Issues = readRegistryErrors(message.Child(registry, "RegistryErrorList"))

	for _, el := range payload.SelectElements("DocumentResponse") {
		ref := ihe.DocumentReference{
			HomeCommunityID:    ihe.NormalizeOID(message.Text(el, "HomeCommunityId")),
			RepositoryUniqueID: ihe.NormalizeOID(message.Text(el, "RepositoryUniqueId")),
			DocUniqueID:        ihe.NormalizeOID(message.Text(el, "DocumentUniqueId")),
			ContentType:        message.Text(el, "mimeType"),
		}
		document := el.SelectElement("Document")
		if document == nil {
			resp.Issues = append(resp.Issues, MissingDocument(ref.DocUniqueID, "response carries no document content"))
			continue
		}
		data, err := mime.Resolve(document, msg)
		if err != nil {
			resp.Issues = append(resp.Issues, MissingDocument(ref.DocUniqueID, err.Error()))
			continue
		}
		size := int64(len(data))
		ref.Content = data
		ref.Size = &size
		resp.Documents = append(resp.Documents, ref)
	}
	return resp, nil
}

// ProcessRetrieveResponse turns a gateway's raw ITI-39 answer into a
// DocumentRetrievalResult. Failures are scoped per document: documents
// that were returned are kept even when others failed.
func ProcessRetrieveResponse(req *ihe.OutboundDocumentRetrievalRequest, contentType string, body []byte) ihe.DocumentRetrievalResult {
	result := RetrievalResult(req)

	msg, err := mime.Decode(contentType, body)
	if err != nil {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, invalidResponse("retrieve", err))
		return result
	}
	parsed, err := message.Parse(msg.Envelope)
	var fault *message.Fault
	if errors.As(err, &fault) {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, fault.Issue())
		return result
	}
	if err != nil {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, invalidResponse("retrieve", err))
		return result
	}
	resp, err := ParseRetrieveResponse(parsed, msg)
	if err != nil {
		result.OperationOutcome = ihe.NewOperationOutcome(req.ID, invalidResponse("retrieve", err))
		return result
	}

	requested := make(map[string]ihe.DocumentReference, len(req.DocumentReference))
	for _, ref := range req.DocumentReference {
		requested[ref.Key()] = ref
	}

	issues := resp.Issues
	returned := make(map[string]bool, len(resp.Documents))
	for _, doc := range resp.Documents {
		ref, ok := requested[doc.Key()]
		if !ok {
			issues = append(issues, ihe.NewIssue(ihe.SeverityWarning, ihe.CodeProcessing,
				fmt.Sprintf("document %s was returned but not requested", doc.DocUniqueID)))
			continue
		}
		returned[doc.Key()] = true
		result.DocumentReference = append(result.DocumentReference, merge(ref, doc))
	}

	for _, ref := range req.DocumentReference {
		if returned[ref.Key()] || mentions(issues, ref.Key()) {
			continue
		}
		issues = append(issues, MissingDocument(ref.Key(), "document was requested but not returned"))
	}

	switch resp.Status {
	case StatusUnknown:
		issues = append(issues, ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing,
			fmt.Sprintf("unknown response status %q", resp.RawStatus)))
	case StatusFailure:
		issues = ensureFailureError(resp.Status, issues)
	}
	result.OperationOutcome = ihe.NewOperationOutcome(req.ID, issues...)
	return result
}

// RetrievalResult is the empty result skeleton for req
func RetrievalResult(req *ihe.OutboundDocumentRetrievalRequest) ihe.DocumentRetrievalResult {
	return ihe.DocumentRetrievalResult{
		ID:                req.ID,
		Timestamp:         req.Timestamp,
		ResponseTimestamp: time.Now().UTC(),
		Gateway:           req.Gateway,
		PatientID:         req.PatientID,
		RequestChunkID:    req.RequestChunkID,
	}
}

// merge keeps the requested metadata and overlays what the responder sent
func merge(requested, returned ihe.DocumentReference) ihe.DocumentReference {
	out := requested
	out.DocUniqueID = requested.Key()
	if returned.HomeCommunityID != "" {
		out.HomeCommunityID = returned.HomeCommunityID
	}
	if returned.RepositoryUniqueID != "" {
		out.RepositoryUniqueID = returned.RepositoryUniqueID
	}
	if returned.ContentType != "" {
		out.ContentType = returned.ContentType
	}
	out.Content = returned.Content
	out.Size = returned.Size
	return out
}

// mentions reports whether an issue is scoped to document id. Issues
// without a location are matched on the ids named in their text.
func mentions(issues []ihe.Issue, id string) bool {
	for _, issue := range issues {
		if issue.Concerns(id) {
			return true
		}
		if len(issue.Location) == 0 && slices.Contains(documentIDs(issue.Details.Text), id) {
			return true
		}
	}
	return false
}

// documentIDs splits text into the identifier-like tokens it names
func documentIDs(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_'
	})
	for i, f := range fields {
		fields[i] = strings.TrimRight(f, ".")
	}
	return fields
}

// MissingDocument is the registry error reported for document id
func MissingDocument(id, text string) ihe.Issue {
	issue := ihe.NewIssue(ihe.SeverityError, ErrorMissingDocument, fmt.Sprintf("document %s: %s", id, text))
	issue.Location = []string{id}
	return issue
}

// documentSelector picks Document elements for MTOM optimization, using
// the sibling mimeType as the part content type.
func documentSelector(el *etree.Element) (string, bool) {
	if el.Tag != "Document" || el.Parent() == nil {
		return "", false
	}
	return message.Text(el.Parent(), "mimeType"), true
}
