package xca

import (
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/mime"
	"github.com/metriport/ihe-gateway/pkg/security"
)

// ResponderOptions carries the local identity written into responses
type ResponderOptions struct {
	HomeCommunityID string
}

// Failure returns an outcome holding a single registry error, used for
// validation faults and internal API failures.
func Failure(id, code, text string) *ihe.OperationOutcome {
	if code == "" {
		code = ErrorRegistry
	}
	return ihe.NewOperationOutcome(id, ihe.NewIssue(ihe.SeverityError, code, text))
}

// BuildQueryResponse creates the AdhocQueryResponse answering req. The
// status is computed from the issues in resp, not copied.
func BuildQueryResponse(req *ihe.InboundDocumentQueryRequest, resp *ihe.InboundDocumentQueryResponse, opts ResponderOptions) *message.Envelope {
	outcome := resp.OperationOutcome
	status := QueryStatus(outcome)

	root := message.Element("query:AdhocQueryResponse",
		"xmlns:query", message.NsQuery,
		"xmlns:rim", message.NsRIM,
		"xmlns:rs", message.NsRS,
		"status", status.URN(),
	)
	writeRegistryErrors(root, outcome)

	list := message.Add(root, "rim:RegistryObjectList")
	if status != StatusFailure {
		for _, ref := range resp.DocumentReference {
			if req.ReturnType == ihe.ReturnObjectRef {
				home := ref.HomeCommunityID
				if home == "" {
					home = opts.HomeCommunityID
				}
				message.Add(list, "rim:ObjectRef", "home", ihe.WrapOID(home), "id", entryRef(ref))
				continue
			}
			writeEntry(list, ref, req.ExternalGatewayPatient, opts.HomeCommunityID)
		}
	}

	env := message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			Action:    message.ActionXCAQueryResponse,
			MessageID: ihe.WrapUUID(uuid.NewString()),
			RelatesTo: req.MessageID,
		}),
		message.WithBody(root),
	)
	security.AddSignatureConfirmation(env, req.Signature)
	return env
}

// entryRef derives a stable registry entry UUID from the document id so
// that ObjectRef answers are repeatable.
func entryRef(ref ihe.DocumentReference) string {
	return ihe.WrapUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref.Key())).String())
}

// RetrieveResponseOptions controls the shape of a retrieval response
type RetrieveResponseOptions struct {
	// Multipart sends document bytes as MTOM parts instead of inline base64
	Multipart bool
}

// BuildRetrieveResponse creates the RetrieveDocumentSetResponse answering
// req and returns the serialized body with its content type. Every
// requested document is either returned or reported as missing; documents
// in resp that req did not ask for are left out.
func BuildRetrieveResponse(req *ihe.InboundDocumentRetrievalRequest, resp *ihe.InboundDocumentRetrievalResponse, opts RetrieveResponseOptions) ([]byte, string, error) {
	outcome := cloneOutcome(resp.OperationOutcome)

	requested := make(map[string]bool, len(req.DocumentReference))
	for _, ref := range req.DocumentReference {
		requested[ref.Key()] = true
	}

	var documents []ihe.DocumentReference
	returned := make(map[string]bool, len(resp.DocumentReference))
	for _, ref := range resp.DocumentReference {
		key := ref.Key()
		if !requested[key] || returned[key] {
			continue
		}
		if len(ref.Content) == 0 {
			if !mentionsOutcome(outcome, key) {
				outcome = outcome.Append(req.ID, MissingDocument(key, "document content is not available"))
			}
			continue
		}
		returned[key] = true
		documents = append(documents, ref)
	}

	// A request-level failure already explains every absent document
	if len(resp.DocumentReference) > 0 || !outcome.HasErrors() {
		for _, ref := range req.DocumentReference {
			key := ref.Key()
			if returned[key] || mentionsOutcome(outcome, key) {
				continue
			}
			outcome = outcome.Append(req.ID, MissingDocument(key, "document not found"))
		}
	}

	status := RetrieveStatus(len(documents), outcome)

	root := message.Element("xds:RetrieveDocumentSetResponse",
		"xmlns:xds", message.NsXDS,
		"xmlns:rs", message.NsRS,
	)
	registry := message.Add(root, "rs:RegistryResponse", "status", status.URN())
	writeRegistryErrors(registry, outcome)

	for _, ref := range documents {
		el := message.Add(root, "xds:DocumentResponse")
		message.AddText(el, "xds:HomeCommunityId", ihe.WrapOID(ref.HomeCommunityID))
		message.AddText(el, "xds:RepositoryUniqueId", ihe.NormalizeOID(ref.RepositoryUniqueID))
		message.AddText(el, "xds:DocumentUniqueId", ref.Key())
		message.AddText(el, "xds:mimeType", ref.ContentType)
		message.AddText(el, "xds:Document", base64.StdEncoding.EncodeToString(ref.Content))
	}

	env := message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			Action:    message.ActionXCARetrieveResp,
			MessageID: ihe.WrapUUID(uuid.NewString()),
			RelatesTo: req.MessageID,
		}),
		message.WithBody(root),
	)
	security.AddSignatureConfirmation(env, req.Signature)

	if !opts.Multipart {
		raw, err := env.Bytes()
		if err != nil {
			return nil, "", err
		}
		return raw, message.ContentType(message.ActionXCARetrieveResp), nil
	}

	parts, err := mime.Optimize(env.Body, documentSelector)
	if err != nil {
		return nil, "", fmt.Errorf("optimizing retrieve response: %w", err)
	}
	raw, err := env.Bytes()
	if err != nil {
		return nil, "", err
	}
	msg := mime.NewMessage(raw, parts)
	msg.Action = message.ActionXCARetrieveResp
	return msg.Serialize()
}

func cloneOutcome(o *ihe.OperationOutcome) *ihe.OperationOutcome {
	if o == nil {
		return nil
	}
	c := *o
	c.Issue = slices.Clone(o.Issue)
	return &c
}

func mentionsOutcome(outcome *ihe.OperationOutcome, id string) bool {
	if outcome == nil {
		return false
	}
	return mentions(outcome.Issue, id)
}

// NewQueryResponse is shorthand for an internal query answer
func NewQueryResponse(id string, outcome *ihe.OperationOutcome, docs ...ihe.DocumentReference) *ihe.InboundDocumentQueryResponse {
	return &ihe.InboundDocumentQueryResponse{
		ID:                id,
		ResponseTimestamp: time.Now().UTC(),
		DocumentReference: docs,
		OperationOutcome:  outcome,
	}
}

// NewRetrieveResponse is shorthand for an internal retrieval answer
func NewRetrieveResponse(id string, outcome *ihe.OperationOutcome, docs ...ihe.DocumentReference) *ihe.InboundDocumentRetrievalResponse {
	return &ihe.InboundDocumentRetrievalResponse{
		ID:                id,
		ResponseTimestamp: time.Now().UTC(),
		DocumentReference: docs,
		OperationOutcome:  outcome,
	}
}
