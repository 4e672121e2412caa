package xcpd

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

const (
	interactionRoot = "2.16.840.1.113883.1.6"

	// ProcessingProduction and ProcessingTest are the HL7 processingCode values
	ProcessingProduction = "P"
	ProcessingTest       = "T"
)

// RequestOptions carries the local community identity written into every
// outbound request.
type RequestOptions struct {
	// HomeCommunityID is the local home community OID
	HomeCommunityID string
	// OrganizationName is the sender's represented organization
	OrganizationName string
	// ProcessingCode defaults to ProcessingProduction
	ProcessingCode string
	// Now overrides the creation time, for tests
	Now time.Time
}

// BuildRequest creates the unsigned ITI-55 envelope asking gw about the
// patient described by req.
func BuildRequest(req *ihe.OutboundPatientDiscoveryRequest, gw ihe.Gateway, opts RequestOptions) (*message.Envelope, error) {
	if gw.URL == "" {
		return nil, fmt.Errorf("gateway %s has no endpoint", gw.HomeCommunityID)
	}
	if len(req.PatientResource.Name) == 0 {
		return nil, fmt.Errorf("patient name is required")
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	processing := opts.ProcessingCode
	if processing == "" {
		processing = ProcessingProduction
	}
	local := ihe.NormalizeOID(opts.HomeCommunityID)
	if local == "" {
		local = ihe.NormalizeOID(req.SamlAttributes.HomeCommunityID)
	}
	remote := ihe.NormalizeOID(gw.HomeCommunityID)
	messageID := ihe.WrapUUID(req.ID)

	root := message.Element("PRPA_IN201305UV02", "xmlns", message.NsHL7, "ITSVersion", "XML_1.0")
	message.Add(root, "id", "extension", messageID, "root", local)
	message.Add(root, "creationTime", "value", message.FormatHL7Time(now))
	message.Add(root, "interactionId", "extension", "PRPA_IN201305UV02", "root", interactionRoot)
	message.Add(root, "processingCode", "code", processing)
	message.Add(root, "processingModeCode", "code", "T")
	message.Add(root, "acceptAckCode", "code", "AL")

	receiver := message.Add(root, "receiver", "typeCode", "RCV")
	device := message.Add(receiver, "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	message.Add(device, "id", "root", remote)
	message.Add(device, "telecom", "value", gw.URL)
	writeAgent(device, remote, "")

	sender := message.Add(root, "sender", "typeCode", "SND")
	device = message.Add(sender, "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	message.Add(device, "id", "root", local)
	writeAgent(device, local, opts.OrganizationName)

	control := message.Add(root, "controlActProcess", "classCode", "CACT", "moodCode", "EVN")
	message.Add(control, "code", "code", "PRPA_TE201305UV02", "codeSystem", interactionRoot)

	query := message.Add(control, "queryByParameter")
	message.Add(query, "queryId", "extension", messageID, "root", local)
	message.Add(query, "statusCode", "code", "new")
	message.Add(query, "responseModalityCode", "code", "R")
	message.Add(query, "responsePriorityCode", "code", "I")
	writeParameterList(query, req.PatientResource, req.PrincipalCareProviderIDs)

	env := message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			To:        gw.URL,
			Action:    message.ActionXCPD,
			MessageID: messageID,
			ReplyTo:   message.AnonymousAddress,
		}),
		message.WithBody(root),
	)
	return env, nil
}

func writeAgent(device *etree.Element, oid, name string) {
	agent := message.Add(device, "asAgent", "classCode", "AGNT")
	org := message.Add(agent, "representedOrganization", "classCode", "ORG", "determinerCode", "INSTANCE")
	message.Add(org, "id", "root", oid)
	message.AddText(org, "name", name)
}
