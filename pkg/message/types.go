package message

// Namespace constants
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsWSA     = "http://www.w3.org/2005/08/addressing"
	NsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSSE11  = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	NsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS      = "http://www.w3.org/2000/09/xmldsig#"
	NsSAML2   = "urn:oasis:names:tc:SAML:2.0:assertion"
	NsXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	NsXSD     = "http://www.w3.org/2001/XMLSchema"
	NsHL7     = "urn:hl7-org:v3"
	NsQuery   = "urn:oasis:names:tc:ebxml-regrep:xsd:query:3.0"
	NsRIM     = "urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0"
	NsRS      = "urn:oasis:names:tc:ebxml-regrep:xsd:rs:3.0"
	NsXDS     = "urn:ihe:iti:xds-b:2007"
	NsXOP     = "http://www.w3.org/2004/08/xop/include"
)

// SOAP actions
const (
	ActionXCPD             = "urn:hl7-org:v3:PRPA_IN201305UV02:CrossGatewayPatientDiscovery"
	ActionXCPDResponse     = "urn:hl7-org:v3:PRPA_IN201306UV02:CrossGatewayPatientDiscovery"
	ActionXCAQuery         = "urn:ihe:iti:2007:CrossGatewayQuery"
	ActionXCAQueryResponse = "urn:ihe:iti:2007:CrossGatewayQueryResponse"
	ActionXCARetrieve      = "urn:ihe:iti:2007:CrossGatewayRetrieve"
	ActionXCARetrieveResp  = "urn:ihe:iti:2007:CrossGatewayRetrieveResponse"
)

// AnonymousAddress is the WS-Addressing anonymous reply endpoint
const AnonymousAddress = "http://www.w3.org/2005/08/addressing/anonymous"

// Content types
const (
	ContentTypeSOAP = "application/soap+xml"
)

// ContentType returns the SOAP 1.2 content type for the given action
func ContentType(action string) string {
	if action == "" {
		return ContentTypeSOAP + "; charset=UTF-8"
	}
	return ContentTypeSOAP + `; charset=UTF-8; action="` + action + `"`
}
