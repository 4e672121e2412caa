// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime handles MTOM (multipart/related with XOP) packaging for
Document Retrieval responses.

Large documents are not inlined as base64 text in the SOAP body. The body
carries an xop:Include placeholder and the raw bytes travel as a separate
MIME part.

# MIME Structure

	Content-Type: multipart/related;
	    type="application/xop+xml";
	    start="<uuid@ihe-gateway>";
	    start-info="application/soap+xml";
	    boundary="MIMEBoundary_..."

	--MIMEBoundary_...
	Content-Type: application/xop+xml; charset=UTF-8; type="application/soap+xml"
	Content-ID: <uuid@ihe-gateway>

	[SOAP Envelope with <xop:Include href="cid:doc@ihe-gateway"/>]

	--MIMEBoundary_...
	Content-Type: application/pdf
	Content-ID: <doc@ihe-gateway>
	Content-Transfer-Encoding: binary

	[document bytes]

# Encoding

Optimize swaps the base64 text of selected elements for placeholders and
returns the parts; the part content type is whatever the selector reports,
normally the document's declared mimeType:

	parts, err := mime.Optimize(env.Body, selectDocuments)
	raw, _ := env.Bytes()
	body, contentType, err := mime.NewMessage(raw, parts).Serialize()

# Decoding

Decode accepts both plain SOAP and multipart bodies, so callers do not need
to know which shape a partner chose. Resolve returns the bytes of a
payload element whichever way they were carried:

	msg, err := mime.Decode(resp.ContentType, resp.Body)
	parsed, err := message.Parse(msg.Envelope)
	data, err := mime.Resolve(documentElement, msg)

# References

  - XOP: https://www.w3.org/TR/xop10/
  - MTOM: https://www.w3.org/TR/soap12-mtom/
  - MIME Multipart: https://datatracker.ietf.org/doc/html/rfc2046
*/
package mime
