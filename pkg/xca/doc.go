// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xca implements IHE Cross-Community Access: Cross Gateway Query
(ITI-38) and Cross Gateway Retrieve (ITI-39).

# Document Query

BuildQueryRequest creates a FindDocuments AdhocQueryRequest for one
gateway. ProcessQueryResponse decodes the answer in either return mode:
LeafClass responses yield full DocumentReference metadata, ObjectRef
responses yield references whose DocUniqueID holds the registry entry id.

Status handling follows the ebXML registry model:

	Success          documents, or an information/not-found issue when empty
	PartialSuccess   documents plus the registry errors as issues
	Failure          registry errors as issues, always at least one error

# Document Retrieval

BuildRetrieveRequest writes one DocumentRequest per reference.
ProcessRetrieveResponse accepts both inline base64 and MTOM answers.
Failures are scoped per document, so a missing document never discards
the ones that were returned.

# Inbound

ParseQueryRequest dispatches every query slot by name to a decoder;
unknown names are ignored. BuildQueryResponse and BuildRetrieveResponse
compute the response status from the issues they carry:

	any fatal or error issue     Failure (retrieval: PartialSuccess if documents were returned)
	only warnings or information PartialSuccess
	no issues                    Success
*/
package xca
