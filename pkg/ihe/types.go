package ihe

import (
	"time"
)

// TransactionType identifies one of the three cross-gateway transactions
type TransactionType string

const (
	PatientDiscovery  TransactionType = "patient-discovery"
	DocumentQuery     TransactionType = "document-query"
	DocumentRetrieval TransactionType = "document-retrieval"
)

// Valid reports whether t is one of the known transactions
func (t TransactionType) Valid() bool {
	switch t {
	case PatientDiscovery, DocumentQuery, DocumentRetrieval:
		return true
	}
	return false
}

// Gateway identifies one remote participant endpoint
type Gateway struct {
	HomeCommunityID string `json:"homeCommunityId" validate:"required"`
	URL             string `json:"url,omitempty" validate:"omitempty,url"`
}

// Code is a coded value (system, code, display)
type Code struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// IsZero reports whether no code value is set
func (c Code) IsZero() bool {
	return c.Code == "" && c.System == "" && c.Display == ""
}

// SecurityAssertion carries the identity and purpose-of-use claims
// attached to every cross-gateway request.
type SecurityAssertion struct {
	SubjectID       string `json:"subjectId" validate:"required"`
	SubjectRole     Code   `json:"subjectRole"`
	Organization    string `json:"organization" validate:"required"`
	OrganizationID  string `json:"organizationId" validate:"required"`
	HomeCommunityID string `json:"homeCommunityId" validate:"required"`
	PurposeOfUse    string `json:"purposeOfUse" validate:"required"`
}

// WithDefaults fills every empty attribute from defaults
func (a SecurityAssertion) WithDefaults(defaults SecurityAssertion) SecurityAssertion {
	if a.SubjectID == "" {
		a.SubjectID = defaults.SubjectID
	}
	if a.SubjectRole.Code == "" {
		a.SubjectRole = defaults.SubjectRole
	}
	if a.Organization == "" {
		a.Organization = defaults.Organization
	}
	if a.OrganizationID == "" {
		a.OrganizationID = defaults.OrganizationID
	}
	if a.HomeCommunityID == "" {
		a.HomeCommunityID = defaults.HomeCommunityID
	}
	if a.PurposeOfUse == "" {
		a.PurposeOfUse = defaults.PurposeOfUse
	}
	return a
}

// Name is a human name
type Name struct {
	Given  []string `json:"given,omitempty"`
	Family string   `json:"family,omitempty"`
}

// Address is a postal address
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// Telecom is a phone number or email address
type Telecom struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value"`
}

// Identifier is a patient identifier scoped by an assigning authority OID
type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// PatientResource holds the demographics exchanged during patient discovery
type PatientResource struct {
	Name       []Name       `json:"name,omitempty" validate:"required,min=1"`
	Gender     string       `json:"gender,omitempty"`
	BirthDate  string       `json:"birthDate,omitempty" validate:"required"`
	Address    []Address    `json:"address,omitempty"`
	Telecom    []Telecom    `json:"telecom,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
}

// ExternalGatewayPatient is a patient identifier assigned by a remote community
type ExternalGatewayPatient struct {
	ID     string `json:"id" validate:"required"`
	System string `json:"system" validate:"required"`
}

// DateRange bounds a query by date. Either end may be zero.
type DateRange struct {
	From time.Time `json:"dateFrom,omitempty"`
	To   time.Time `json:"dateTo,omitempty"`
}

// IsZero reports whether neither bound is set
func (r *DateRange) IsZero() bool {
	return r == nil || (r.From.IsZero() && r.To.IsZero())
}

// ReturnType selects full entries or references in a document query response
type ReturnType string

const (
	ReturnLeafClass ReturnType = "LeafClass"
	ReturnObjectRef ReturnType = "ObjectRef"
)

// DocumentReference identifies one document entry found by a query, or one
// payload returned by a retrieval.
type DocumentReference struct {
	HomeCommunityID    string `json:"homeCommunityId"`
	DocUniqueID        string `json:"docUniqueId"`
	RepositoryUniqueID string `json:"repositoryUniqueId"`
	ContentType        string `json:"contentType,omitempty"`
	Language           string `json:"language,omitempty"`
	URI                string `json:"url,omitempty"`
	Creation           string `json:"creation,omitempty"`
	Title              string `json:"title,omitempty"`
	Size               *int64 `json:"size,omitempty"`
	Hash               string `json:"hash,omitempty"`

	// StorageKey names the object holding the document bytes, when the
	// bytes live in the document store rather than behind URI.
	StorageKey string `json:"fileName,omitempty"`

	ClassCode           *Code    `json:"classCode,omitempty"`
	TypeCode            *Code    `json:"typeCode,omitempty"`
	FormatCode          *Code    `json:"formatCode,omitempty"`
	ConfidentialityCode *Code    `json:"confidentialityCode,omitempty"`
	PracticeSettingCode *Code    `json:"practiceSettingCode,omitempty"`
	FacilityTypeCode    *Code    `json:"healthcareFacilityTypeCode,omitempty"`
	Authors             []string `json:"authors,omitempty"`
	AuthorInstitutions  []string `json:"authorInstitutions,omitempty"`
	ServiceStartTime    string   `json:"serviceStartTime,omitempty"`
	ServiceStopTime     string   `json:"serviceStopTime,omitempty"`
	SourcePatientID     string   `json:"sourcePatientId,omitempty"`
	Content             []byte   `json:"-"`
}

// Key is the document unique id without any scheme prefix
func (d DocumentReference) Key() string {
	return NormalizeOID(d.DocUniqueID)
}
