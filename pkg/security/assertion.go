package security

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// SAML attribute names
const (
	AttrSubjectID       = "urn:oasis:names:tc:xspa:1.0:subject:subject-id"
	AttrOrganization    = "urn:oasis:names:tc:xspa:1.0:subject:organization"
	AttrOrganizationID  = "urn:oasis:names:tc:xspa:1.0:subject:organization-id"
	AttrHomeCommunityID = "urn:nhin:names:saml:homeCommunityId"
	AttrSubjectRole     = "urn:oasis:names:tc:xacml:2.0:subject:role"
	AttrPurposeOfUse    = "urn:oasis:names:tc:xspa:1.0:subject:purposeofuse"
	AttrQueryGrantor    = "QueryAuthGrantor"
)

const (
	nameFormatURI   = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"
	nameFormatBasic = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"

	// BasicNameFormatOID is the one community whose gateway rejects the uri
	// name format on subject-id.
	BasicNameFormatOID = "1.3.6.1.4.1.41800.100"

	snomedSystem     = "2.16.840.1.113883.6.96"
	nhinPurposeCodes = "2.16.840.1.113883.3.18.7.1"

	timestampLayout = "2006-01-02T15:04:05.000Z"

	// DefaultAssertionTTL bounds the timestamp and assertion validity
	DefaultAssertionTTL = 5 * time.Minute
)

// AssertionOptions carries the per-request values that are not part of the
// security assertion itself.
type AssertionOptions struct {
	// Audience is the target endpoint URL
	Audience string
	// GatewayOID is the target home community id
	GatewayOID string
	// Issuer of the assertion, an email address
	Issuer string
	// NameID overrides the X509 subject name of the signing certificate
	NameID string
	// QueryGrantorOID adds a QueryAuthGrantor attribute when set
	QueryGrantorOID string
	Created         time.Time
	TTL             time.Duration
}

// AttachAssertion signs a SAML 2.0 assertion for a and inserts it, with a
// signed wsu:Timestamp, as a wsse:Security header in front of the
// addressing block.
func (s *Signer) AttachAssertion(env *message.Envelope, a ihe.SecurityAssertion, opts AssertionOptions) error {
	pub, ok := s.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate key must be RSA")
	}

	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	createdAt := created.UTC().Format(timestampLayout)
	expiresAt := created.Add(ttl).UTC().Format(timestampLayout)

	security := message.Element("wsse:Security",
		"xmlns:wsse", message.NsWSSE,
		"xmlns:wsu", message.NsWSU,
		"xmlns:ds", message.NsDS,
		"soap:mustUnderstand", "true",
	)

	timestampID := "TS-" + uuid.NewString()
	timestamp := message.Add(security, "wsu:Timestamp", "xmlns:wsu", message.NsWSU, "wsu:Id", timestampID)
	message.AddText(timestamp, "wsu:Created", createdAt)
	message.AddText(timestamp, "wsu:Expires", expiresAt)

	assertionID := "_" + uuid.NewString()
	assertion := message.Add(security, "saml2:Assertion",
		"xmlns:saml2", message.NsSAML2,
		"xmlns:xsd", message.NsXSD,
		"xmlns:xsi", message.NsXSI,
		"xmlns:ds", message.NsDS,
		"ID", assertionID,
		"IssueInstant", createdAt,
		"Version", "2.0",
	)

	issuer := opts.Issuer
	if issuer == "" && len(s.cert.EmailAddresses) > 0 {
		issuer = s.cert.EmailAddresses[0]
	}
	if issuer == "" {
		issuer = s.cert.Subject.CommonName
	}
	message.AddText(assertion, "saml2:Issuer", issuer,
		"Format", "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress")

	nameID := opts.NameID
	if nameID == "" {
		nameID = s.cert.Subject.String()
	}
	subject := message.Add(assertion, "saml2:Subject")
	message.AddText(subject, "saml2:NameID", nameID,
		"Format", "urn:oasis:names:tc:SAML:1.1:nameid-format:X509SubjectName")
	confirmation := message.Add(subject, "saml2:SubjectConfirmation",
		"Method", "urn:oasis:names:tc:SAML:2.0:cm:holder-of-key")
	keyInfo := message.Add(message.Add(confirmation, "saml2:SubjectConfirmationData"), "ds:KeyInfo")
	rsaKey := message.Add(message.Add(keyInfo, "ds:KeyValue"), "ds:RSAKeyValue")
	message.AddText(rsaKey, "ds:Modulus", base64.StdEncoding.EncodeToString(pub.N.Bytes()))
	message.AddText(rsaKey, "ds:Exponent", base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()))
	message.AddText(message.Add(keyInfo, "ds:X509Data"), "ds:X509Certificate",
		base64.StdEncoding.EncodeToString(s.cert.Raw))

	conditions := message.Add(assertion, "saml2:Conditions", "NotBefore", createdAt, "NotOnOrAfter", expiresAt)
	if opts.Audience != "" {
		message.AddText(message.Add(conditions, "saml2:AudienceRestriction"), "saml2:Audience", opts.Audience)
	}

	authn := message.Add(assertion, "saml2:AuthnStatement", "AuthnInstant", createdAt)
	message.Add(authn, "saml2:SubjectLocality", "Address", "127.0.0.1", "DNSName", "localhost")
	message.AddText(message.Add(authn, "saml2:AuthnContext"), "saml2:AuthnContextClassRef",
		"urn:oasis:names:tc:SAML:2.0:ac:classes:X509")

	addAttributes(message.Add(assertion, "saml2:AttributeStatement"), a, opts)

	env.PrependHeader(security)

	assertionSig, err := s.signElement(assertion, assertionID, true)
	if err != nil {
		return fmt.Errorf("signing assertion: %w", err)
	}
	s.x509KeyInfo(assertionSig)
	// saml2:Signature must follow saml2:Issuer
	assertion.InsertChildAt(assertion.SelectElement("Issuer").Index()+1, assertionSig)

	timestampSig, err := s.signElement(timestamp, timestampID, false)
	if err != nil {
		return fmt.Errorf("signing timestamp: %w", err)
	}
	samlTokenKeyInfo(timestampSig, assertionID)
	security.AddChild(timestampSig)

	return nil
}

func addAttributes(statement *etree.Element, a ihe.SecurityAssertion, opts AssertionOptions) {
	subjectIDFormat := nameFormatURI
	if ihe.NormalizeOID(opts.GatewayOID) == BasicNameFormatOID {
		subjectIDFormat = nameFormatBasic
	}

	attr := message.Add(statement, "saml2:Attribute", "Name", AttrSubjectID, "NameFormat", subjectIDFormat)
	message.AddText(attr, "saml2:AttributeValue", a.SubjectID, "xsi:type", "xsd:string")

	attr = message.Add(statement, "saml2:Attribute", "Name", AttrOrganization, "NameFormat", nameFormatURI)
	message.AddText(attr, "saml2:AttributeValue", a.Organization, "xsi:type", "xsd:string")

	attr = message.Add(statement, "saml2:Attribute", "Name", AttrOrganizationID, "NameFormat", nameFormatURI)
	message.AddText(attr, "saml2:AttributeValue", ihe.WrapOID(a.OrganizationID), "xsi:type", "xsd:string")

	attr = message.Add(statement, "saml2:Attribute", "Name", AttrHomeCommunityID, "NameFormat", nameFormatURI)
	message.AddText(attr, "saml2:AttributeValue", ihe.WrapOID(a.HomeCommunityID), "xsi:type", "xsd:string")

	attr = message.Add(statement, "saml2:Attribute", "Name", AttrSubjectRole)
	role := a.SubjectRole
	if role.System == "" {
		role.System = snomedSystem
	}
	message.Add(message.Add(attr, "saml2:AttributeValue"), "hl7:Role",
		"xmlns:hl7", message.NsHL7,
		"xsi:type", "hl7:CE",
		"code", role.Code,
		"codeSystem", role.System,
		"codeSystemName", "SNOMED_CT",
		"displayName", role.Display,
	)

	attr = message.Add(statement, "saml2:Attribute", "Name", AttrPurposeOfUse)
	message.Add(message.Add(attr, "saml2:AttributeValue"), "hl7:PurposeOfUse",
		"xmlns:hl7", message.NsHL7,
		"xsi:type", "hl7:CE",
		"code", a.PurposeOfUse,
		"codeSystem", nhinPurposeCodes,
		"codeSystemName", "nhin-purpose",
		"displayName", purposeDisplay(a.PurposeOfUse),
	)

	if opts.QueryGrantorOID != "" {
		attr = message.Add(statement, "saml2:Attribute", "Name", AttrQueryGrantor, "NameFormat", nameFormatURI)
		message.AddText(attr, "saml2:AttributeValue", "Organization/"+ihe.NormalizeOID(opts.QueryGrantorOID))
	}
}

func purposeDisplay(code string) string {
	switch strings.ToUpper(code) {
	case "TREATMENT":
		return "Treatment"
	case "PAYMENT":
		return "Payment"
	case "OPERATIONS":
		return "Healthcare Operations"
	case "COVERAGE":
		return "Coverage Determination"
	case "REQUEST":
		return "Request for Individual Access"
	case "PUBLICHEALTH":
		return "Public Health"
	}
	return code
}
