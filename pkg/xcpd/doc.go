// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xcpd implements IHE Cross-Community Patient Discovery (ITI-55).

# Outbound

BuildRequest creates one unsigned PRPA_IN201305UV02 envelope per target
gateway; the caller attaches the SAML assertion before sending.
ProcessResponse turns the gateway's raw answer into a PatientDiscoveryResult.

The answer is first reduced to the acknowledgement code, the query
response code, the number of returned patients and whether the responder
asked for a refined query. Classify maps those four values onto one Case:

	CaseMatch            AA / OK, one patient
	CaseMultipleMatches  more than one patient
	CaseAmbiguous        responder requested more demographics
	CaseNoMatch          AA / NF
	CaseNoAck            neither code present
	CaseError            anything else, including AA with query response AE

Only CaseMatch sets PatientMatch and PatientResource. Every other case
carries an OperationOutcome. CaseMultipleMatches and CaseAmbiguous are
Reportable: the caller should escalate them to operators.

# Inbound

ParseRequest reads a PRPA_IN201305UV02 from a remote community and checks
its processingCode against the accepted values. BuildResponse answers it,
echoing the query, deriving the acknowledgement from PatientMatch and
confirming the inbound signature. NACK builds the negative
acknowledgement used for processing mode and validation failures.
*/
package xcpd
