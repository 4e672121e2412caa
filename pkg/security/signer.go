package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	"github.com/metriport/ihe-gateway/pkg/message"
)

const (
	algExcC14N      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	algEnveloped    = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	algRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algSHA256       = "http://www.w3.org/2001/04/xmlenc#sha256"
	valueTypeSAMLID = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLID"
	tokenTypeSAML2  = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLV2.0"
)

// Signer creates XML signatures with the gateway's RSA key
type Signer struct {
	key  crypto.Signer
	cert *x509.Certificate
}

// NewSigner creates a signer. The key must be RSA.
func NewSigner(key crypto.Signer, cert *x509.Certificate) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cert == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if _, ok := key.Public().(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("signing key must be RSA, got %T", key.Public())
	}
	return &Signer{key: key, cert: cert}, nil
}

// Certificate returns the signing certificate
func (s *Signer) Certificate() *x509.Certificate {
	return s.cert
}

// signElement creates a ds:Signature over elem, referenced by id. When
// enveloped is set the signature is meant to be placed inside elem, so the
// digest is taken before insertion, which is what the enveloped-signature
// transform reproduces on verification.
func (s *Signer) signElement(elem *etree.Element, id string, enveloped bool) (*etree.Element, error) {
	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", message.NsDS)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	// Exclusive C14N requires the declaration on the element itself
	signedInfo.CreateAttr("xmlns:ds", message.NsDS)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", algExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", algRSASHA256)

	canonical, err := signedxml.ExclusiveCanonicalization{WithComments: false}.ProcessElement(elem, "")
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize element: %w", err)
	}
	digest := sha256.Sum256([]byte(canonical))

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "#"+id)
	transforms := ref.CreateElement("ds:Transforms")
	if enveloped {
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algEnveloped)
	}
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algExcC14N)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA256)
	ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest[:]))

	canonicalSignedInfo, err := signedxml.ExclusiveCanonicalization{WithComments: false}.ProcessElement(signedInfo, "")
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedInfo: %w", err)
	}
	signedDigest := sha256.Sum256([]byte(canonicalSignedInfo))

	value, err := s.key.Sign(rand.Reader, signedDigest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	return sig, nil
}

// x509KeyInfo embeds the signing certificate
func (s *Signer) x509KeyInfo(sig *etree.Element) {
	keyInfo := sig.CreateElement("ds:KeyInfo")
	keyInfo.CreateElement("ds:X509Data").CreateElement("ds:X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
}

// samlTokenKeyInfo references the SAML assertion carrying the key
func samlTokenKeyInfo(sig *etree.Element, assertionID string) {
	keyInfo := sig.CreateElement("ds:KeyInfo")
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	str.CreateAttr("xmlns:wsse11", message.NsWSSE11)
	str.CreateAttr("wsse11:TokenType", tokenTypeSAML2)
	keyID := str.CreateElement("wsse:KeyIdentifier")
	keyID.CreateAttr("ValueType", valueTypeSAMLID)
	keyID.SetText(assertionID)
}
