// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ihegateway implements an IHE cross-community gateway for the
Carequality and eHealth Exchange networks.

# Overview

ihe-gateway sits between an internal API tier and remote communities. As an
initiating gateway it fans patient discovery, document query and document
retrieval requests out to many remote gateways at once, classifies every
answer, and collects one result per gateway under the request id. As a
responding gateway it answers the same transactions for the local
community, delegating the business decision to the internal API.

# Profiles Implemented

  - ITI-55 Cross Gateway Patient Discovery (XCPD): https://profiles.ihe.net/ITI/TF/Volume2/ITI-55.html
  - ITI-38 Cross Gateway Query (XCA): https://profiles.ihe.net/ITI/TF/Volume2/ITI-38.html
  - ITI-39 Cross Gateway Retrieve (XCA): https://profiles.ihe.net/ITI/TF/Volume2/ITI-39.html
  - XUA SAML 2.0 assertions in a WS-Security header: https://profiles.ihe.net/ITI/TF/Volume2/ITI-40.html
  - SOAP 1.2 with WS-Addressing, and MTOM/XOP for retrieved documents

# Package Structure

	github.com/metriport/ihe-gateway/pkg/ihe         - Request, result and outcome types
	github.com/metriport/ihe-gateway/pkg/message     - SOAP envelopes, faults and schema validation
	github.com/metriport/ihe-gateway/pkg/mime        - MTOM multipart/related codec
	github.com/metriport/ihe-gateway/pkg/security    - SAML assertion signing and extraction
	github.com/metriport/ihe-gateway/pkg/transport   - HTTPS client and server with TLS 1.2/1.3
	github.com/metriport/ihe-gateway/pkg/xcpd        - ITI-55 builders, classifier and responder
	github.com/metriport/ihe-gateway/pkg/xca         - ITI-38/39 builders, classifiers and responders
	github.com/metriport/ihe-gateway/pkg/outbound    - Fan-out dispatcher with retries and rate limits
	github.com/metriport/ihe-gateway/pkg/correlation - Result collection per request id
	github.com/metriport/ihe-gateway/pkg/directory   - Gateway endpoint lookup
	github.com/metriport/ihe-gateway/pkg/docstore    - Retrieved document storage (S3 compatible)

The runnable gateway lives in cmd/ihe-gateway.

# Quick Start

To discover a patient at one remote community:

	import (
	    "github.com/metriport/ihe-gateway/pkg/ihe"
	    "github.com/metriport/ihe-gateway/pkg/outbound"
	    "github.com/metriport/ihe-gateway/pkg/security"
	    "github.com/metriport/ihe-gateway/pkg/transport"
	)

	signer, _ := security.NewSigner(privateKey, cert)
	d := outbound.New(outbound.Config{
	    HomeCommunityID:  "2.16.840.1.113883.3.9621",
	    OrganizationName: "Example Health",
	}, transport.NewHTTPSClient(nil), signer)

	results, err := d.PatientDiscovery(ctx, &ihe.OutboundPatientDiscoveryRequest{
	    ID:        requestID,
	    CxID:      "cx-1",
	    PatientID: "patient-1",
	    Gateways:  []ihe.Gateway{{HomeCommunityID: "2.16.840.1.113883.3.1111", URL: endpoint}},
	    PatientResource: patient,
	})

# Security Features

  - SAML 2.0 assertion signed with RSA-SHA256, exclusive canonicalization
  - Signed wsu:Timestamp bound to the assertion through a SecurityTokenReference
  - Mutual TLS to remote gateways and optionally from them
  - OAuth2 bearer tokens on the outbound API

# License

BSD-2-Clause License
*/
package ihegateway
