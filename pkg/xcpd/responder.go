package xcpd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/security"
)

// DetailProcessingMode is the acknowledgementDetail code of a processing
// mode NACK
const DetailProcessingMode = "ProcessingMode"

const custodianCodeSystem = "1.3.6.1.4.1.19376.1.2.27.2"

// ResponderOptions carries the local identity written into responses
type ResponderOptions struct {
	HomeCommunityID  string
	OrganizationName string
	Now              time.Time
}

// AckCodes derives the acknowledgement and query response codes from the
// match outcome: true is AA/OK, false is AA/NF and unknown is AE/AE.
func AckCodes(patientMatch *bool) (ack, queryResponseCode string) {
	switch {
	case patientMatch == nil:
		return AckError, QueryError
	case *patientMatch:
		return AckAccept, QueryOK
	default:
		return AckAccept, QueryNotFound
	}
}

// NACK builds the negative acknowledgement answer for req
func NACK(req *ihe.InboundPatientDiscoveryRequest, code, text string) *ihe.InboundPatientDiscoveryResponse {
	return &ihe.InboundPatientDiscoveryResponse{
		ID:                req.ID,
		Timestamp:         req.Timestamp,
		ResponseTimestamp: time.Now().UTC(),
		OperationOutcome:  ihe.NewOperationOutcome(req.ID, ihe.NewIssue(ihe.SeverityError, code, text)),
	}
}

// BuildResponse creates the PRPA_IN201306UV02 answer to req. The query is
// echoed back and the inbound signature is confirmed in the header.
func BuildResponse(req *ihe.InboundPatientDiscoveryRequest, resp *ihe.InboundPatientDiscoveryResponse, opts ResponderOptions) (*message.Envelope, error) {
	matched := resp.PatientMatch != nil && *resp.PatientMatch
	if matched && (resp.ExternalGatewayPatient == nil || resp.PatientResource == nil) {
		return nil, fmt.Errorf("matched response for %s lacks the patient", req.ID)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := ihe.NormalizeOID(opts.HomeCommunityID)
	requester := ihe.NormalizeOID(req.SamlAttributes.HomeCommunityID)
	ack, queryResponseCode := AckCodes(resp.PatientMatch)

	root := message.Element("PRPA_IN201306UV02",
		"xmlns", message.NsHL7,
		"xmlns:xsi", message.NsXSI,
		"ITSVersion", "XML_1.0",
	)
	message.Add(root, "id", "root", uuid.NewString())
	message.Add(root, "creationTime", "value", message.FormatHL7Time(now))
	message.Add(root, "interactionId", "extension", "PRPA_IN201306UV02", "root", interactionRoot)
	message.Add(root, "processingCode", "code", ProcessingProduction)
	message.Add(root, "processingModeCode", "code", "T")
	message.Add(root, "acceptAckCode", "code", "NE")

	receiver := message.Add(root, "receiver", "typeCode", "RCV")
	device := message.Add(receiver, "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	message.Add(device, "id", "root", firstNonEmpty(req.Sender, requester))
	writeAgent(device, firstNonEmpty(req.Sender, requester), "")

	sender := message.Add(root, "sender", "typeCode", "SND")
	device = message.Add(sender, "device", "classCode", "DEV", "determinerCode", "INSTANCE")
	message.Add(device, "id", "root", local)
	writeAgent(device, local, opts.OrganizationName)

	acknowledgement := message.Add(root, "acknowledgement")
	message.Add(acknowledgement, "typeCode", "code", ack)
	target := message.Add(acknowledgement, "targetMessage")
	message.Add(target, "id", "extension", req.ID, "root", requester)
	if resp.OperationOutcome != nil {
		for _, issue := range resp.OperationOutcome.Issue {
			typeCode := "E"
			if !issue.Severity.IsError() {
				typeCode = "W"
			}
			detail := message.Add(acknowledgement, "acknowledgementDetail", "typeCode", typeCode)
			if issue.Code != "" {
				message.Add(detail, "code", "code", issue.Code)
			}
			message.AddText(detail, "text", issue.Details.Text)
		}
	}

	control := message.Add(root, "controlActProcess", "classCode", "CACT", "moodCode", "EVN")
	message.Add(control, "code", "code", "PRPA_TE201306UV02", "codeSystem", interactionRoot)
	performer := message.Add(control, "authorOrPerformer", "typeCode", "AUT")
	message.Add(message.Add(performer, "assignedDevice", "classCode", "ASSIGNED"), "id", "root", local)

	if matched {
		subject := message.Add(control, "subject", "typeCode", "SBJ", "contextConductionInd", "false")
		event := message.Add(subject, "registrationEvent", "classCode", "REG", "moodCode", "EVN")
		message.Add(event, "id", "nullFlavor", "NA")
		message.Add(event, "statusCode", "code", "active")
		patient := message.Add(message.Add(event, "subject1", "typeCode", "SBJ"), "patient", "classCode", "PAT")
		message.Add(patient, "id",
			"extension", resp.ExternalGatewayPatient.ID,
			"root", ihe.NormalizeOID(resp.ExternalGatewayPatient.System),
		)
		message.Add(patient, "statusCode", "code", "active")
		writePatientPerson(patient, *resp.PatientResource)

		custodian := message.Add(event, "custodian", "typeCode", "CST")
		entity := message.Add(custodian, "assignedEntity", "classCode", "ASSIGNED")
		message.Add(entity, "id", "root", local)
		message.Add(entity, "code", "code", "NotHealthDataLocator", "codeSystem", custodianCodeSystem)
	}

	queryAck := message.Add(control, "queryAck")
	message.Add(queryAck, "queryId", "extension", req.ID, "root", requester)
	message.Add(queryAck, "statusCode", "code", "deliveredResponse")
	message.Add(queryAck, "queryResponseCode", "code", queryResponseCode)

	query := message.Add(control, "queryByParameter")
	message.Add(query, "queryId", "extension", req.ID, "root", requester)
	message.Add(query, "statusCode", "code", "new")
	message.Add(query, "responseModalityCode", "code", "R")
	message.Add(query, "responsePriorityCode", "code", "I")
	writeParameterList(query, req.PatientResource, nil)

	env := message.NewEnvelope(
		message.WithAddressing(message.Addressing{
			Action:    message.ActionXCPDResponse,
			MessageID: ihe.WrapUUID(uuid.NewString()),
			RelatesTo: req.MessageID,
		}),
		message.WithBody(root),
	)
	security.AddSignatureConfirmation(env, req.Signature)
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
