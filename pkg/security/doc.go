// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security attaches and extracts the SAML 2.0 security assertion
carried by every IHE cross-gateway request.

# Outbound

AttachAssertion builds a wsse:Security header holding a wsu:Timestamp and a
holder-of-key saml2:Assertion with the XSPA/NHIN attributes:

	subject-id          the requesting user
	organization        requesting organization name
	organization-id     requesting organization OID (urn:oid: prefixed)
	homeCommunityId     local home community OID (urn:oid: prefixed)
	subject:role        hl7:Role, SNOMED CT coded
	purposeofuse        hl7:PurposeOfUse, NHIN purpose coded

Both the assertion (enveloped) and the timestamp are signed with RSA-SHA256
over Exclusive C14N. The header is inserted in front of the WS-Addressing
block so the addressing elements keep their relative order.

	signer, err := security.NewSigner(keyPair.Signer, keyPair.Certificate)
	err = signer.AttachAssertion(env, request.SamlAttributes, security.AssertionOptions{
	    Audience:   gateway.URL,
	    GatewayOID: gateway.HomeCommunityID,
	})

# Inbound

ExtractAssertion reads the same attributes from a namespace-stripped
header. Partners omit attributes often enough that a missing value is
replaced by the configured default instead of failing the request.
Signatures on inbound requests are not verified here; transport-level
mutual TLS authenticates the peer.
*/
package security
