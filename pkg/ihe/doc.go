// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ihe defines the data model shared by the IHE cross-gateway engine.

The types in this package are the boundary between the protocol tier and
the internal API tier. They are serialized as JSON when results are handed
to the internal API and when inbound transactions are delegated to it.

# Transactions

	PatientDiscovery   XCPD ITI-55  /xcpd
	DocumentQuery      XCA  ITI-38  /xcadq
	DocumentRetrieval  XCA  ITI-39  /xcadr

# Results

Every normalized result carries the Gateway it came from. A result that
could not produce a clean positive answer carries an OperationOutcome
alongside whatever partial data was recovered:

	result := ihe.DocumentQueryResult{Gateway: gw}
	result.OperationOutcome = ihe.NewOperationOutcome(requestID,
	    ihe.Issue{Severity: ihe.SeverityError, Code: "http-error", Details: ihe.Details{Text: msg}})

# Identifiers

Partners disagree on whether OIDs carry the "urn:oid:" prefix. Use
NormalizeOID when reading and WrapOID when writing.
*/
package ihe
