package message

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// ErrNotEnvelope is returned when the document root is not a SOAP envelope
var ErrNotEnvelope = errors.New("not a SOAP envelope")

// Parsed is a namespace-stripped SOAP envelope
type Parsed struct {
	Root   *etree.Element
	Header *etree.Element
	Body   *etree.Element
}

// Payload returns the first element inside the body, or nil
func (p *Parsed) Payload() *etree.Element {
	if p == nil || p.Body == nil {
		return nil
	}
	children := p.Body.ChildElements()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// Fault is a SOAP fault returned by a remote party
type Fault struct {
	Code    string
	Subcode string
	Reason  string
	Detail  string
}

func (f *Fault) Error() string {
	code := f.Code
	if f.Subcode != "" {
		code += "/" + f.Subcode
	}
	if f.Detail != "" {
		return fmt.Sprintf("soap fault %s: %s (%s)", code, f.Reason, f.Detail)
	}
	return fmt.Sprintf("soap fault %s: %s", code, f.Reason)
}

// Issue converts the fault into an OperationOutcome issue
func (f *Fault) Issue() ihe.Issue {
	text := f.Reason
	if text == "" {
		text = f.Code
	}
	if f.Detail != "" {
		text += ": " + f.Detail
	}
	return ihe.NewIssue(ihe.SeverityError, ihe.CodeSOAPFault, text)
}

// Parse reads a SOAP envelope and strips every namespace prefix. When the
// body holds a Fault the returned error is a *Fault and the body is not
// inspected further.
func Parse(raw []byte) (*Parsed, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimPreamble(raw)); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, ErrNotEnvelope
	}
	StripNamespaces(root)

	parsed := &Parsed{
		Root:   root,
		Header: root.SelectElement("Header"),
		Body:   root.SelectElement("Body"),
	}
	if parsed.Body == nil {
		return nil, fmt.Errorf("%w: missing Body", ErrNotEnvelope)
	}

	if fault := parsed.Body.SelectElement("Fault"); fault != nil {
		return parsed, parseFault(fault)
	}
	return parsed, nil
}

// parseFault handles both SOAP 1.2 and SOAP 1.1 fault layouts
func parseFault(el *etree.Element) *Fault {
	f := &Fault{
		Code:    Text(el, "Code", "Value"),
		Subcode: Text(el, "Code", "Subcode", "Value"),
		Reason:  Text(el, "Reason", "Text"),
	}
	if f.Code == "" {
		f.Code = Text(el, "faultcode")
	}
	if f.Reason == "" {
		f.Reason = Text(el, "faultstring")
	}

	detail := el.SelectElement("Detail")
	if detail == nil {
		detail = el.SelectElement("detail")
	}
	if detail != nil {
		f.Detail = strings.Join(strings.Fields(detail.Text()+" "+innerText(detail)), " ")
	}
	return f
}

func innerText(el *etree.Element) string {
	var parts []string
	for _, child := range el.ChildElements() {
		if t := strings.TrimSpace(child.Text()); t != "" {
			parts = append(parts, t)
		}
		if t := innerText(child); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// trimPreamble drops a byte order mark and anything before the first tag
func trimPreamble(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if i := bytes.IndexByte(raw, '<'); i > 0 {
		raw = raw[i:]
	}
	return raw
}
