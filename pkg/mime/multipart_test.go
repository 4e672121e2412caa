package mime

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPart(t *testing.T) {
	part := NewPart([]byte("test payload data"), "text/plain")

	assert.True(t, strings.HasPrefix(part.ContentID, "<"))
	assert.True(t, strings.HasSuffix(part.ContentID, "@ihe-gateway>"))
	assert.Equal(t, "text/plain", part.ContentType)
	assert.Equal(t, "binary", part.ContentTransfer)
	assert.NotNil(t, part.Headers)

	assert.Equal(t, ContentTypeOctetStream, NewPart(nil, "").ContentType)
}

func TestMessage_Serialize(t *testing.T) {
	msg := NewMessage([]byte("<Envelope/>"), []Part{NewPart([]byte("%PDF-1.4"), "application/pdf")})

	body, contentType, err := msg.Serialize()
	require.NoError(t, err)

	assert.Contains(t, contentType, "multipart/related")
	assert.Contains(t, contentType, `type="application/xop+xml"`)
	assert.Contains(t, contentType, "start=")
	assert.Contains(t, contentType, "start-info=")
	assert.Contains(t, contentType, "boundary=")

	s := string(body)
	assert.Contains(t, s, "Content-Type: application/xop+xml")
	assert.Contains(t, s, "Content-Type: application/pdf")
	assert.Contains(t, s, "%PDF-1.4")
}

func TestMessage_SerializeAndParse(t *testing.T) {
	payloads := []Part{
		NewPart([]byte{0x00, 0x01, 0xff, 0xfe}, "application/octet-stream"),
		NewPart([]byte("<ClinicalDocument/>"), "text/xml"),
	}
	msg := NewMessage([]byte("<Envelope>root</Envelope>"), payloads)

	body, contentType, err := msg.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(bytes.NewReader(body), contentType)
	require.NoError(t, err)

	assert.Equal(t, "<Envelope>root</Envelope>", string(parsed.Envelope))
	require.Len(t, parsed.Parts, 2)
	for _, want := range payloads {
		got := parsed.GetPart(want.ContentID)
		require.NotNil(t, got)
		assert.Equal(t, want.Data, got.Data)
		assert.Equal(t, want.ContentType, got.ContentType)
	}
}

func TestParse_StartNotFirst(t *testing.T) {
	body := "--b\r\nContent-ID: <att>\r\nContent-Type: text/plain\r\n\r\nattachment\r\n" +
		"--b\r\nContent-ID: <root>\r\nContent-Type: application/xop+xml\r\n\r\n<Envelope/>\r\n--b--\r\n"

	msg, err := Parse(strings.NewReader(body), `multipart/related; boundary=b; start="<root>"`)
	require.NoError(t, err)
	assert.Equal(t, "<Envelope/>", string(msg.Envelope))
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "attachment", string(msg.Parts[0].Data))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader(""), "text/xml")
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(""), "multipart/related")
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("--b\r\nContent-ID: <x>\r\n\r\ndata\r\n--b--\r\n"), `multipart/related; boundary=b; start="<root>"`)
	assert.Error(t, err)
}

func TestDecode_PlainSOAP(t *testing.T) {
	msg, err := Decode("application/soap+xml; charset=UTF-8", []byte("<Envelope/>"))
	require.NoError(t, err)
	assert.False(t, msg.Multipart)
	assert.Equal(t, "<Envelope/>", string(msg.Envelope))
	assert.Empty(t, msg.Parts)
}

func TestGetPart_ReferenceForms(t *testing.T) {
	msg := &Message{Parts: []Part{{ContentID: "<doc1@ihe-gateway>", Data: []byte("x")}}}

	assert.NotNil(t, msg.GetPart("cid:doc1@ihe-gateway"))
	assert.NotNil(t, msg.GetPart("cid:doc1%40ihe-gateway"))
	assert.NotNil(t, msg.GetPart("<doc1@ihe-gateway>"))
	assert.NotNil(t, msg.GetPart("doc1@ihe-gateway"))
	assert.Nil(t, msg.GetPart("cid:other"))
}

func TestIsMultipart(t *testing.T) {
	assert.True(t, IsMultipart(`multipart/related; type="application/xop+xml"; boundary=x`))
	assert.False(t, IsMultipart("application/soap+xml"))
	assert.False(t, IsMultipart(""))
}

func documentResponseTree(docs map[string][]byte) *etree.Document {
	doc := etree.NewDocument()
	root := doc.CreateElement("xdsb:RetrieveDocumentSetResponse")
	root.CreateAttr("xmlns:xdsb", "urn:ihe:iti:xds-b:2007")
	for _, id := range []string{"1.2.3.1", "1.2.3.2"} {
		resp := root.CreateElement("xdsb:DocumentResponse")
		resp.CreateElement("xdsb:DocumentUniqueId").SetText(id)
		resp.CreateElement("xdsb:mimeType").SetText("application/pdf")
		resp.CreateElement("xdsb:Document").SetText(base64.StdEncoding.EncodeToString(docs[id]))
	}
	return doc
}

func documentSelector(el *etree.Element) (string, bool) {
	if el.Tag != "Document" {
		return "", false
	}
	return el.Parent().SelectElement("mimeType").Text(), true
}

func TestOptimizeResolve_RoundTrip(t *testing.T) {
	docs := map[string][]byte{
		"1.2.3.1": []byte("%PDF-1.7 first document"),
		"1.2.3.2": {0x00, 0x10, 0x20, 0xff},
	}
	tree := documentResponseTree(docs)

	parts, err := Optimize(tree.Root(), documentSelector)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.Equal(t, "application/pdf", p.ContentType)
	}

	envelope, err := tree.WriteToBytes()
	require.NoError(t, err)
	assert.NotContains(t, string(envelope), base64.StdEncoding.EncodeToString(docs["1.2.3.1"]))
	assert.Contains(t, string(envelope), "xop:Include")

	body, contentType, err := NewMessage(envelope, parts).Serialize()
	require.NoError(t, err)

	decoded, err := Decode(contentType, body)
	require.NoError(t, err)

	out := etree.NewDocument()
	require.NoError(t, out.ReadFromBytes(decoded.Envelope))
	for _, resp := range out.Root().SelectElements("DocumentResponse") {
		id := resp.SelectElement("DocumentUniqueId").Text()
		data, err := Resolve(resp.SelectElement("Document"), decoded)
		require.NoError(t, err)
		assert.Equal(t, docs[id], data, id)
		assert.Equal(t, "application/pdf", resp.SelectElement("mimeType").Text())
	}
}

func TestResolve_InlineAndMissing(t *testing.T) {
	el := etree.NewElement("Document")
	el.SetText("aGVs\nbG8=")
	data, err := Resolve(el, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	missing := etree.NewElement("Document")
	missing.CreateElement("xop:Include").CreateAttr("href", "cid:nope")
	_, err = Resolve(missing, &Message{})
	assert.ErrorIs(t, err, ErrPartNotFound)

	_, err = Resolve(missing, nil)
	assert.ErrorIs(t, err, ErrPartNotFound)
}

func TestNotSupported(t *testing.T) {
	outcome := NotSupported("req-1", "request encoding")
	require.NotNil(t, outcome)
	require.Len(t, outcome.Issue, 1)
	assert.Equal(t, "not-supported", outcome.Issue[0].Code)
	assert.Contains(t, outcome.Issue[0].Details.Text, "request encoding")
}
