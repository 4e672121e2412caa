package mime

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeXOP is the root part type of an MTOM message
	ContentTypeXOP = "application/xop+xml"
	// ContentTypeSOAPXML is the MIME type for SOAP 1.2
	ContentTypeSOAPXML = "application/soap+xml"
	// ContentTypeOctetStream is used for parts without a declared type
	ContentTypeOctetStream = "application/octet-stream"

	contentIDDomain = "ihe-gateway"
)

// Message is an MTOM message: a SOAP envelope plus its binary parts
type Message struct {
	Boundary  string
	StartID   string
	Action    string
	Envelope  []byte
	Parts     []Part
	Multipart bool
}

// Part is one binary MIME part referenced from the envelope
type Part struct {
	ContentID       string
	ContentType     string
	ContentTransfer string
	Data            []byte
	Headers         textproto.MIMEHeader
}

// NewMessage creates an MTOM message for envelope and parts
func NewMessage(envelope []byte, parts []Part) *Message {
	return &Message{
		Boundary:  generateBoundary(),
		StartID:   newContentID(),
		Envelope:  envelope,
		Parts:     parts,
		Multipart: true,
	}
}

// NewPart creates a binary part with a fresh Content-ID
func NewPart(data []byte, contentType string) Part {
	if contentType == "" {
		contentType = ContentTypeOctetStream
	}
	return Part{
		ContentID:       newContentID(),
		ContentType:     contentType,
		ContentTransfer: "binary",
		Data:            data,
		Headers:         make(textproto.MIMEHeader),
	}
}

// Serialize writes the multipart body and returns it with the matching
// Content-Type header value.
func (m *Message) Serialize() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.SetBoundary(m.Boundary); err != nil {
		return nil, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	rootType := ContentTypeXOP + `; charset=UTF-8; type="` + ContentTypeSOAPXML + `"`
	if m.Action != "" {
		rootType = ContentTypeXOP + `; charset=UTF-8; type="` + ContentTypeSOAPXML + `; action=\"` + m.Action + `\""`
	}
	rootHeader := textproto.MIMEHeader{}
	rootHeader.Set("Content-Type", rootType)
	rootHeader.Set("Content-Transfer-Encoding", "8bit")
	rootHeader.Set("Content-ID", AddContentIDBrackets(m.StartID))

	rootPart, err := writer.CreatePart(rootHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create root part: %w", err)
	}
	if _, err := rootPart.Write(m.Envelope); err != nil {
		return nil, "", fmt.Errorf("failed to write root part: %w", err)
	}

	for _, part := range m.Parts {
		header := textproto.MIMEHeader{}

		contentType := part.ContentType
		if contentType == "" {
			contentType = ContentTypeOctetStream
		}
		header.Set("Content-Type", contentType)

		transfer := part.ContentTransfer
		if transfer == "" {
			transfer = "binary"
		}
		header.Set("Content-Transfer-Encoding", transfer)
		header.Set("Content-ID", AddContentIDBrackets(part.ContentID))

		for key, values := range part.Headers {
			for _, value := range values {
				header.Add(key, value)
			}
		}

		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", part.ContentID, err)
		}
		if _, err := w.Write(part.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write part %s: %w", part.ContentID, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	params := map[string]string{
		"boundary":   m.Boundary,
		"type":       ContentTypeXOP,
		"start":      AddContentIDBrackets(m.StartID),
		"start-info": ContentTypeSOAPXML,
	}
	return buf.Bytes(), mime.FormatMediaType(ContentTypeMultipartRelated, params), nil
}

// IsMultipart reports whether contentType denotes a multipart message
func IsMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/")
	}
	return strings.HasPrefix(mediaType, "multipart/")
}

// Decode returns the message carried by body. A non-multipart body is
// returned as a message whose envelope is the whole body.
func Decode(contentType string, body []byte) (*Message, error) {
	if !IsMultipart(contentType) {
		return &Message{Envelope: body}, nil
	}
	return Parse(bytes.NewReader(body), contentType)
}

// Parse parses a multipart/related message. The root part is the one named
// by the start parameter, or the first part when start is absent.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart message: %s", mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	msg := &Message{
		Boundary:  boundary,
		StartID:   params["start"],
		Multipart: true,
	}

	reader := multipart.NewReader(r, boundary)
	first := true
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("failed to read part data: %w", err)
		}

		contentID := part.Header.Get("Content-ID")
		isRoot := msg.Envelope == nil && (msg.StartID == "" && first ||
			msg.StartID != "" && normalizeContentID(msg.StartID) == normalizeContentID(contentID))
		first = false

		if isRoot {
			msg.Envelope = data
			continue
		}
		msg.Parts = append(msg.Parts, Part{
			ContentID:       contentID,
			ContentType:     part.Header.Get("Content-Type"),
			ContentTransfer: part.Header.Get("Content-Transfer-Encoding"),
			Data:            data,
			Headers:         part.Header,
		})
	}

	if msg.Envelope == nil {
		return nil, fmt.Errorf("SOAP envelope not found in message")
	}
	return msg, nil
}

// GetPart finds a part by Content-ID, accepting cid: references and
// bracketed or bare ids.
func (m *Message) GetPart(contentID string) *Part {
	search := normalizeContentID(contentID)
	for i := range m.Parts {
		if normalizeContentID(m.Parts[i].ContentID) == search {
			return &m.Parts[i]
		}
	}
	return nil
}

// normalizeContentID normalizes a Content-ID or cid: URL for comparison
func normalizeContentID(contentID string) string {
	contentID = strings.TrimSpace(contentID)
	if strings.HasPrefix(strings.ToLower(contentID), "cid:") {
		contentID = contentID[len("cid:"):]
		// cid URLs are percent-encoded, Content-ID headers are not
		contentID = strings.ReplaceAll(contentID, "%40", "@")
	}
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

func newContentID() string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), contentIDDomain)
}

// generateBoundary generates a MIME boundary string
func generateBoundary() string {
	return fmt.Sprintf("MIMEBoundary_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// GetContentIDWithoutBrackets removes < and > from Content-ID
func GetContentIDWithoutBrackets(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "<")
	return strings.TrimSuffix(contentID, ">")
}

// AddContentIDBrackets adds < and > to Content-ID if not present
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}
