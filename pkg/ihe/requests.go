package ihe

import "time"

// OutboundPatientDiscoveryRequest asks every listed gateway whether it holds
// a record for the patient.
type OutboundPatientDiscoveryRequest struct {
	ID                       string            `json:"id" validate:"required"`
	CxID                     string            `json:"cxId" validate:"required"`
	PatientID                string            `json:"patientId" validate:"required"`
	Timestamp                time.Time         `json:"timestamp"`
	SamlAttributes           SecurityAssertion `json:"samlAttributes"`
	Gateways                 []Gateway         `json:"gateways" validate:"required,min=1,dive"`
	PatientResource          PatientResource   `json:"patientResource"`
	PrincipalCareProviderIDs []string          `json:"principalCareProviderIds,omitempty"`
}

// OutboundDocumentQueryRequest lists documents for a patient at one gateway
type OutboundDocumentQueryRequest struct {
	ID                     string                 `json:"id" validate:"required"`
	CxID                   string                 `json:"cxId" validate:"required"`
	PatientID              string                 `json:"patientId" validate:"required"`
	Timestamp              time.Time              `json:"timestamp"`
	SamlAttributes         SecurityAssertion      `json:"samlAttributes"`
	Gateway                Gateway                `json:"gateway"`
	ExternalGatewayPatient ExternalGatewayPatient `json:"externalGatewayPatient"`
	ClassCode              []Code                 `json:"classCode,omitempty"`
	PracticeSettingCode    []Code                 `json:"practiceSettingCode,omitempty"`
	FacilityTypeCode       []Code                 `json:"facilityTypeCode,omitempty"`
	ServiceDate            *DateRange             `json:"serviceDate,omitempty"`
	DocumentCreationDate   *DateRange             `json:"documentCreationDate,omitempty"`
	ReturnType             ReturnType             `json:"returnType,omitempty" validate:"omitempty,oneof=LeafClass ObjectRef"`
}

// OutboundDocumentRetrievalRequest fetches documents from one gateway
type OutboundDocumentRetrievalRequest struct {
	ID                string              `json:"id" validate:"required"`
	CxID              string              `json:"cxId" validate:"required"`
	PatientID         string              `json:"patientId" validate:"required"`
	Timestamp         time.Time           `json:"timestamp"`
	SamlAttributes    SecurityAssertion   `json:"samlAttributes"`
	Gateway           Gateway             `json:"gateway"`
	DocumentReference []DocumentReference `json:"documentReference" validate:"required,min=1"`
	// RequestChunkID marks one slice of a retrieval the caller split up,
	// and is echoed in the result
	RequestChunkID string `json:"requestChunkId,omitempty"`
}

// InboundPatientDiscoveryRequest is an XCPD request received from a remote community
type InboundPatientDiscoveryRequest struct {
	ID              string            `json:"id"`
	MessageID       string            `json:"messageId,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	SamlAttributes  SecurityAssertion `json:"samlAttributes"`
	PatientResource PatientResource   `json:"patientResource"`

	// Signature is the inbound SignatureValue, echoed back as a
	// SignatureConfirmation.
	Signature string `json:"signature,omitempty"`

	// Sender carries the remote device/community id for the response
	// receiver block.
	Sender string `json:"sender,omitempty"`
}

// InboundDocumentQueryRequest is an ITI-38 request received from a remote community
type InboundDocumentQueryRequest struct {
	ID                     string                 `json:"id"`
	MessageID              string                 `json:"messageId,omitempty"`
	Timestamp              time.Time              `json:"timestamp"`
	SamlAttributes         SecurityAssertion      `json:"samlAttributes"`
	ExternalGatewayPatient ExternalGatewayPatient `json:"externalGatewayPatient"`
	ClassCode              []Code                 `json:"classCode,omitempty"`
	TypeCode               []Code                 `json:"typeCode,omitempty"`
	PracticeSettingCode    []Code                 `json:"practiceSettingCode,omitempty"`
	FacilityTypeCode       []Code                 `json:"facilityTypeCode,omitempty"`
	ServiceDate            *DateRange             `json:"serviceDate,omitempty"`
	DocumentCreationDate   *DateRange             `json:"documentCreationDate,omitempty"`
	ReturnType             ReturnType             `json:"returnType"`
	Signature              string                 `json:"signature,omitempty"`
}

// InboundDocumentRetrievalRequest is an ITI-39 request received from a remote community
type InboundDocumentRetrievalRequest struct {
	ID                string              `json:"id"`
	MessageID         string              `json:"messageId,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
	SamlAttributes    SecurityAssertion   `json:"samlAttributes"`
	DocumentReference []DocumentReference `json:"documentReference"`
	AcceptsMultipart  bool                `json:"acceptsMultipart"`
	Signature         string              `json:"signature,omitempty"`
}
