// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message provides the SOAP 1.2 envelope codec used by every IHE
cross-gateway transaction.

Envelopes are built and parsed with etree rather than encoding/xml struct
tags because counterparties prefix the same elements differently and the
signing code needs a mutable DOM.

# Building Envelopes

	env := message.NewEnvelope(
	    message.WithAddressing(message.Addressing{
	        To:        gateway.URL,
	        Action:    message.ActionXCPD,
	        MessageID: "urn:uuid:" + uuid.NewString(),
	        ReplyTo:   message.AnonymousAddress,
	    }),
	)
	env.Body.AddChild(payload)
	raw, err := env.Bytes()

The addressing block is written in the order To, Action, MessageID,
ReplyTo, RelatesTo. Security headers are inserted in front of it so the
block stays contiguous.

# Parsing Responses

Parse removes every namespace prefix and declaration before returning, so
callers match on local names only:

	parsed, err := message.Parse(raw)
	var fault *message.Fault
	if errors.As(err, &fault) {
	    // remote SOAP fault, body was not inspected
	}
	status := message.Attr(parsed.Payload(), "status")

# Schema Validation

SchemaValidator validates a detached body payload. The XSD-backed
implementation needs libxml2 and is compiled with the libxml2 build tag;
without it NewSchemaValidator only accepts an empty schema path.
*/
package message
