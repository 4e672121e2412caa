package security

import (
	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// ExtractAssertion reads the SAML attributes from a namespace-stripped SOAP
// header. Attributes the sender omitted are taken from defaults;
// organization and home community identifiers are returned without the
// urn:oid: prefix.
func ExtractAssertion(header *etree.Element, defaults ihe.SecurityAssertion) ihe.SecurityAssertion {
	var a ihe.SecurityAssertion

	statement := message.Child(header, "Security", "Assertion", "AttributeStatement")
	for _, attr := range message.Children(statement, "Attribute") {
		value := attr.SelectElement("AttributeValue")
		if value == nil {
			continue
		}
		switch message.Attr(attr, "Name") {
		case AttrSubjectID:
			a.SubjectID = message.Text(value)
		case AttrOrganization:
			a.Organization = message.Text(value)
		case AttrOrganizationID:
			a.OrganizationID = ihe.NormalizeOID(message.Text(value))
		case AttrHomeCommunityID:
			a.HomeCommunityID = ihe.NormalizeOID(message.Text(value))
		case AttrSubjectRole:
			if role := value.SelectElement("Role"); role != nil {
				a.SubjectRole = ihe.Code{
					System:  message.Attr(role, "codeSystem"),
					Code:    message.Attr(role, "code"),
					Display: message.Attr(role, "displayName"),
				}
			}
		case AttrPurposeOfUse:
			if purpose := value.SelectElement("PurposeOfUse"); purpose != nil {
				a.PurposeOfUse = message.Attr(purpose, "code")
			} else {
				a.PurposeOfUse = message.Text(value)
			}
		}
	}

	defaults.OrganizationID = ihe.NormalizeOID(defaults.OrganizationID)
	defaults.HomeCommunityID = ihe.NormalizeOID(defaults.HomeCommunityID)
	return a.WithDefaults(defaults)
}

// SignatureValue returns the first SignatureValue found in the security
// header, for echoing back as a SignatureConfirmation.
func SignatureValue(header *etree.Element) string {
	security := message.Child(header, "Security")
	if security == nil {
		return ""
	}
	if sig := security.FindElement(".//SignatureValue"); sig != nil {
		return message.Text(sig)
	}
	return ""
}

// AddSignatureConfirmation adds a wsse11:SignatureConfirmation for value to
// a response envelope.
func AddSignatureConfirmation(env *message.Envelope, value string) {
	if value == "" {
		return
	}
	security := message.Element("wsse:Security",
		"xmlns:wsse", message.NsWSSE,
		"xmlns:wsse11", message.NsWSSE11,
	)
	message.Add(security, "wsse11:SignatureConfirmation", "Value", value)
	env.PrependHeader(security)
}
