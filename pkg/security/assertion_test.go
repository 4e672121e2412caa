package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(42),
		Subject:        pkix.Name{CommonName: "ihe.gateway.test", Organization: []string{"Gateway Org"}},
		EmailAddresses: []string{"support@gateway.test"},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	signer, err := NewSigner(key, cert)
	require.NoError(t, err)
	return signer
}

func testAssertion() ihe.SecurityAssertion {
	return ihe.SecurityAssertion{
		SubjectID:       "Dr. Jane Smith",
		SubjectRole:     ihe.Code{Code: "224608005", Display: "Administrative AND/OR managerial worker"},
		Organization:    "Gateway Org",
		OrganizationID:  "urn:oid:2.16.840.1.113883.3.9621",
		HomeCommunityID: "2.16.840.1.113883.3.9621",
		PurposeOfUse:    "TREATMENT",
	}
}

func signedEnvelope(t *testing.T, signer *Signer, opts AssertionOptions) []byte {
	t.Helper()
	env := message.NewEnvelope(message.WithAddressing(message.Addressing{
		To:        "https://remote.example.org/xcpd",
		Action:    message.ActionXCPD,
		MessageID: "urn:uuid:1",
		ReplyTo:   message.AnonymousAddress,
	}))
	require.NoError(t, signer.AttachAssertion(env, testAssertion(), opts))
	raw, err := env.Bytes()
	require.NoError(t, err)
	return raw
}

func TestNewSigner_Validation(t *testing.T) {
	_, err := NewSigner(nil, &x509.Certificate{})
	assert.Error(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = NewSigner(key, nil)
	assert.Error(t, err)
}

func TestAttachAssertion_HeaderOrder(t *testing.T) {
	raw := signedEnvelope(t, testSigner(t), AssertionOptions{Audience: "https://remote.example.org/xcpd"})

	parsed, err := message.Parse(raw)
	require.NoError(t, err)

	var tags []string
	for _, el := range parsed.Header.ChildElements() {
		tags = append(tags, el.Tag)
	}
	assert.Equal(t, []string{"Security", "To", "Action", "MessageID", "ReplyTo"}, tags)

	security := parsed.Header.SelectElement("Security")
	var securityTags []string
	for _, el := range security.ChildElements() {
		securityTags = append(securityTags, el.Tag)
	}
	assert.Equal(t, []string{"Timestamp", "Assertion", "Signature"}, securityTags)

	assertion := security.SelectElement("Assertion")
	var assertionTags []string
	for _, el := range assertion.ChildElements() {
		assertionTags = append(assertionTags, el.Tag)
	}
	assert.Equal(t, []string{"Issuer", "Signature", "Subject", "Conditions", "AuthnStatement", "AttributeStatement"}, assertionTags)
	assert.Equal(t, "support@gateway.test", message.Text(assertion, "Issuer"))
	assert.Equal(t, "https://remote.example.org/xcpd", message.Text(assertion, "Conditions", "AudienceRestriction", "Audience"))
}

func TestAttachAssertion_PrefixesOIDsOnWrite(t *testing.T) {
	raw := string(signedEnvelope(t, testSigner(t), AssertionOptions{}))

	assert.Contains(t, raw, ">urn:oid:2.16.840.1.113883.3.9621<")
	assert.NotContains(t, raw, "urn:oid:urn:oid:")
}

func TestAttachAssertion_SubjectIDNameFormat(t *testing.T) {
	signer := testSigner(t)

	for oid, want := range map[string]string{
		BasicNameFormatOID:              nameFormatBasic,
		"urn:oid:" + BasicNameFormatOID: nameFormatBasic,
		"2.16.840.1.113883.3.7732.100":  nameFormatURI,
	} {
		parsed, err := message.Parse(signedEnvelope(t, signer, AssertionOptions{GatewayOID: oid}))
		require.NoError(t, err)
		for _, attr := range message.Children(parsed.Header, "Attribute", "Security", "Assertion", "AttributeStatement") {
			if message.Attr(attr, "Name") == AttrSubjectID {
				assert.Equal(t, want, message.Attr(attr, "NameFormat"), oid)
			}
		}
	}
}

func TestAttachAssertion_Expiry(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := signedEnvelope(t, testSigner(t), AssertionOptions{Created: created, TTL: 10 * time.Minute})

	parsed, err := message.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", message.Text(parsed.Header, "Security", "Timestamp", "Created"))
	assert.Equal(t, "2024-05-01T12:10:00.000Z", message.Text(parsed.Header, "Security", "Timestamp", "Expires"))
	assert.Equal(t, "2024-05-01T12:10:00.000Z", message.AttrAt(parsed.Header, "NotOnOrAfter", "Security", "Assertion", "Conditions"))
}

func TestAttachAssertion_SignatureVerifies(t *testing.T) {
	signer := testSigner(t)
	raw := signedEnvelope(t, signer, AssertionOptions{})

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	assertion := doc.FindElement("//Assertion")
	require.NotNil(t, assertion)
	sig := assertion.SelectElement("Signature")
	require.NotNil(t, sig)

	stripped := assertion.Copy()
	stripped.RemoveChild(stripped.SelectElement("Signature"))
	canonical, err := signedxml.ExclusiveCanonicalization{}.ProcessElement(stripped, "")
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(canonical))

	signedInfo := sig.SelectElement("SignedInfo")
	ref := signedInfo.SelectElement("Reference")
	assert.Equal(t, "#"+assertion.SelectAttrValue("ID", ""), ref.SelectAttrValue("URI", ""))
	assert.Equal(t, base64.StdEncoding.EncodeToString(digest[:]), ref.SelectElement("DigestValue").Text())

	canonicalSignedInfo, err := signedxml.ExclusiveCanonicalization{}.ProcessElement(signedInfo.Copy(), "")
	require.NoError(t, err)
	hashed := sha256.Sum256([]byte(canonicalSignedInfo))
	value, err := base64.StdEncoding.DecodeString(sig.SelectElement("SignatureValue").Text())
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(signer.Certificate().PublicKey.(*rsa.PublicKey), crypto.SHA256, hashed[:], value))
}

func TestExtractAssertion_RoundTrip(t *testing.T) {
	parsed, err := message.Parse(signedEnvelope(t, testSigner(t), AssertionOptions{}))
	require.NoError(t, err)

	got := ExtractAssertion(parsed.Header, ihe.SecurityAssertion{})
	assert.Equal(t, "Dr. Jane Smith", got.SubjectID)
	assert.Equal(t, "Gateway Org", got.Organization)
	assert.Equal(t, "2.16.840.1.113883.3.9621", got.OrganizationID)
	assert.Equal(t, "2.16.840.1.113883.3.9621", got.HomeCommunityID)
	assert.Equal(t, "224608005", got.SubjectRole.Code)
	assert.Equal(t, snomedSystem, got.SubjectRole.System)
	assert.Equal(t, "TREATMENT", got.PurposeOfUse)
	assert.NotEmpty(t, SignatureValue(parsed.Header))
}

func TestExtractAssertion_Defaults(t *testing.T) {
	raw := `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Header>
	<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
	<saml:Assertion xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"><saml:AttributeStatement>
	<saml:Attribute Name="urn:oasis:names:tc:xspa:1.0:subject:subject-id"><saml:AttributeValue>nurse</saml:AttributeValue></saml:Attribute>
	<saml:Attribute Name="urn:oasis:names:tc:xspa:1.0:subject:organization-id"><saml:AttributeValue>1.2.840.1</saml:AttributeValue></saml:Attribute>
	</saml:AttributeStatement></saml:Assertion></wsse:Security></soap:Header><soap:Body/></soap:Envelope>`

	parsed, err := message.Parse([]byte(raw))
	require.NoError(t, err)

	defaults := ihe.SecurityAssertion{
		SubjectRole:     ihe.Code{Code: "106331006", Display: "Administrative AND/OR managerial worker"},
		HomeCommunityID: "urn:oid:9.9.9",
		PurposeOfUse:    "TREATMENT",
		Organization:    "Unknown",
	}
	got := ExtractAssertion(parsed.Header, defaults)

	assert.Equal(t, "nurse", got.SubjectID)
	assert.Equal(t, "1.2.840.1", got.OrganizationID)
	assert.Equal(t, "9.9.9", got.HomeCommunityID)
	assert.Equal(t, "TREATMENT", got.PurposeOfUse)
	assert.Equal(t, "106331006", got.SubjectRole.Code)
	assert.Equal(t, "Unknown", got.Organization)
	assert.Empty(t, SignatureValue(parsed.Header))
}

func TestExtractAssertion_NoHeader(t *testing.T) {
	got := ExtractAssertion(nil, ihe.SecurityAssertion{PurposeOfUse: "TREATMENT"})
	assert.Equal(t, "TREATMENT", got.PurposeOfUse)
}

func TestAddSignatureConfirmation(t *testing.T) {
	env := message.NewEnvelope(message.WithAddressing(message.Addressing{Action: message.ActionXCPDResponse}))
	AddSignatureConfirmation(env, "c2lnbmF0dXJl")
	AddSignatureConfirmation(env, "")

	raw, err := env.Bytes()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "SignatureConfirmation"))
	assert.Contains(t, string(raw), `Value="c2lnbmF0dXJl"`)
}

func TestPurposeDisplay(t *testing.T) {
	assert.Equal(t, "Treatment", purposeDisplay("TREATMENT"))
	assert.Equal(t, "Public Health", purposeDisplay("publichealth"))
	assert.Equal(t, "OTHER", purposeDisplay("OTHER"))
}
