package ihe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOID(t *testing.T) {
	prefixed := NormalizeOID("urn:oid:2.16.840.1.113883.3.9621")
	bare := NormalizeOID("2.16.840.1.113883.3.9621")

	assert.Equal(t, "2.16.840.1.113883.3.9621", prefixed)
	assert.Equal(t, prefixed, bare)
	assert.Equal(t, "1.2.3", NormalizeOID("  URN:OID:1.2.3 "))
	assert.Equal(t, "", NormalizeOID(""))
}

func TestWrapOID(t *testing.T) {
	assert.Equal(t, "urn:oid:1.2.3", WrapOID("1.2.3"))
	assert.Equal(t, "urn:oid:1.2.3", WrapOID("urn:oid:1.2.3"))
	assert.Equal(t, "", WrapOID(""))
}

func TestUUIDPrefix(t *testing.T) {
	assert.Equal(t, "abc", NormalizeUUID("urn:uuid:abc"))
	assert.Equal(t, "urn:uuid:abc", WrapUUID("abc"))
	assert.Equal(t, "urn:uuid:abc", WrapUUID("urn:uuid:abc"))
}

func TestNewOperationOutcome_Empty(t *testing.T) {
	assert.Nil(t, NewOperationOutcome("req-1"))
}

func TestOperationOutcome_HasErrors(t *testing.T) {
	warn := NewOperationOutcome("req-1", NewIssue(SeverityWarning, "w", "warning"))
	assert.False(t, warn.HasErrors())

	fatal := NewOperationOutcome("req-1", NewIssue(SeverityFatal, "f", "fatal"))
	assert.True(t, fatal.HasErrors())

	var none *OperationOutcome
	assert.False(t, none.HasErrors())
}

func TestOperationOutcome_Append(t *testing.T) {
	var outcome *OperationOutcome
	outcome = outcome.Append("req-1")
	assert.Nil(t, outcome)

	outcome = outcome.Append("req-1", NewIssue(SeverityError, CodeNotFound, "missing"))
	if assert.NotNil(t, outcome) {
		assert.Equal(t, "OperationOutcome", outcome.ResourceType)
		assert.Len(t, outcome.Issue, 1)
	}

	outcome = outcome.Append("req-1", NewIssue(SeverityWarning, CodeProcessing, "slow"))
	assert.Len(t, outcome.Issue, 2)
	assert.Equal(t, "not-found: missing; processing: slow", outcome.Text())
}

func TestSecurityAssertion_WithDefaults(t *testing.T) {
	defaults := SecurityAssertion{
		SubjectID:       "System User",
		SubjectRole:     Code{Code: "106331006", Display: "Administrative AND/OR managerial worker"},
		Organization:    "Gateway Org",
		OrganizationID:  "1.2.3",
		HomeCommunityID: "1.2.3",
		PurposeOfUse:    "TREATMENT",
	}

	got := SecurityAssertion{SubjectID: "Dr. Who", HomeCommunityID: "4.5.6"}.WithDefaults(defaults)

	assert.Equal(t, "Dr. Who", got.SubjectID)
	assert.Equal(t, "4.5.6", got.HomeCommunityID)
	assert.Equal(t, "TREATMENT", got.PurposeOfUse)
	assert.Equal(t, "106331006", got.SubjectRole.Code)
	assert.Equal(t, "Gateway Org", got.Organization)
}

func TestTransactionType_Valid(t *testing.T) {
	assert.True(t, PatientDiscovery.Valid())
	assert.True(t, DocumentRetrieval.Valid())
	assert.False(t, TransactionType("bulk").Valid())
}
