package message

import (
	"fmt"

	"github.com/beevik/etree"
)

// StripNamespaces removes namespace prefixes and declarations from el and
// all of its descendants, in place. Partners prefix the same elements
// differently (soap:, S:, env:, ns2:, or none), so structural matching is
// done on local names only.
func StripNamespaces(el *etree.Element) {
	el.Space = ""

	attrs := el.Attr[:0]
	for _, a := range el.Attr {
		if isNamespaceDecl(a) {
			continue
		}
		a.Space = ""
		attrs = append(attrs, a)
	}
	el.Attr = attrs

	for _, child := range el.ChildElements() {
		StripNamespaces(child)
	}
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// DetachPayload returns the first element of the SOAP body as a standalone
// document, carrying every namespace declaration that was in scope for it.
// The prefixes are left untouched, so the result can be schema validated.
func DetachPayload(raw []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimPreamble(raw)); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, ErrNotEnvelope
	}
	body := root.SelectElement("Body")
	if body == nil || len(body.ChildElements()) == 0 {
		return nil, fmt.Errorf("%w: empty Body", ErrNotEnvelope)
	}
	payload := body.ChildElements()[0]

	detached := payload.Copy()
	for p := payload.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if !isNamespaceDecl(a) {
				continue
			}
			if detached.SelectAttr(a.FullKey()) == nil {
				detached.CreateAttr(a.FullKey(), a.Value)
			}
		}
	}

	out := etree.NewDocument()
	out.SetRoot(detached)
	data, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}
	return data, nil
}
