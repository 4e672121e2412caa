package ihe

import "time"

// PatientDiscoveryResult is the normalized answer of one gateway to an XCPD request
type PatientDiscoveryResult struct {
	ID                     string                  `json:"id"`
	Timestamp              time.Time               `json:"timestamp"`
	ResponseTimestamp      time.Time               `json:"responseTimestamp"`
	Gateway                Gateway                 `json:"gateway"`
	PatientID              string                  `json:"patientId,omitempty"`
	PatientMatch           bool                    `json:"patientMatch"`
	GatewayPatientID       string                  `json:"gatewayPatientId,omitempty"`
	GatewayHomeCommunityID string                  `json:"gatewayHomeCommunityId,omitempty"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
	PatientResource        *PatientResource        `json:"patientResource,omitempty"`
	OperationOutcome       *OperationOutcome       `json:"operationOutcome,omitempty"`
}

// DocumentQueryResult is the normalized answer of one gateway to an ITI-38 request
type DocumentQueryResult struct {
	ID                     string                  `json:"id"`
	Timestamp              time.Time               `json:"timestamp"`
	ResponseTimestamp      time.Time               `json:"responseTimestamp"`
	Gateway                Gateway                 `json:"gateway"`
	PatientID              string                  `json:"patientId,omitempty"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
	DocumentReference      []DocumentReference     `json:"documentReference"`
	OperationOutcome       *OperationOutcome       `json:"operationOutcome,omitempty"`
}

// DocumentRetrievalResult is the normalized answer of one gateway to an ITI-39 request
type DocumentRetrievalResult struct {
	ID                string              `json:"id"`
	Timestamp         time.Time           `json:"timestamp"`
	ResponseTimestamp time.Time           `json:"responseTimestamp"`
	Gateway           Gateway             `json:"gateway"`
	PatientID         string              `json:"patientId,omitempty"`
	RequestChunkID    string              `json:"requestChunkId,omitempty"`
	DocumentReference []DocumentReference `json:"documentReference"`
	OperationOutcome  *OperationOutcome   `json:"operationOutcome,omitempty"`
}

// InboundPatientDiscoveryResponse is the internal answer to an inbound XCPD
// request. PatientMatch is nil when the lookup itself failed.
type InboundPatientDiscoveryResponse struct {
	ID                     string                  `json:"id"`
	Timestamp              time.Time               `json:"timestamp"`
	ResponseTimestamp      time.Time               `json:"responseTimestamp"`
	PatientMatch           *bool                   `json:"patientMatch"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
	PatientResource        *PatientResource        `json:"patientResource,omitempty"`
	OperationOutcome       *OperationOutcome       `json:"operationOutcome,omitempty"`
}

// InboundDocumentQueryResponse is the internal answer to an inbound ITI-38 request
type InboundDocumentQueryResponse struct {
	ID                string              `json:"id"`
	Timestamp         time.Time           `json:"timestamp"`
	ResponseTimestamp time.Time           `json:"responseTimestamp"`
	DocumentReference []DocumentReference `json:"documentReference,omitempty"`
	OperationOutcome  *OperationOutcome   `json:"operationOutcome,omitempty"`
}

// InboundDocumentRetrievalResponse is the internal answer to an inbound ITI-39 request
type InboundDocumentRetrievalResponse struct {
	ID                string              `json:"id"`
	Timestamp         time.Time           `json:"timestamp"`
	ResponseTimestamp time.Time           `json:"responseTimestamp"`
	DocumentReference []DocumentReference `json:"documentReference,omitempty"`
	OperationOutcome  *OperationOutcome   `json:"operationOutcome,omitempty"`
}
