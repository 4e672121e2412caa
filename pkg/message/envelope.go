package message

import (
	"fmt"

	"github.com/beevik/etree"
)

// Addressing holds the WS-Addressing header values of an envelope
type Addressing struct {
	To        string
	Action    string
	MessageID string
	ReplyTo   string
	RelatesTo string
}

// Envelope is a SOAP 1.2 envelope under construction
type Envelope struct {
	doc    *etree.Document
	Root   *etree.Element
	Header *etree.Element
	Body   *etree.Element
}

// Option configures an Envelope
type Option func(*Envelope)

// WithAddressing writes the WS-Addressing header block
func WithAddressing(a Addressing) Option {
	return func(e *Envelope) {
		e.SetAddressing(a)
	}
}

// WithBody appends el to the SOAP body
func WithBody(el *etree.Element) Option {
	return func(e *Envelope) {
		if el != nil {
			e.Body.AddChild(el)
		}
	}
}

// NewEnvelope creates an empty SOAP 1.2 envelope with header and body
func NewEnvelope(opts ...Option) *Envelope {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("soap:Envelope")
	root.CreateAttr("xmlns:soap", NsSOAPEnv)
	root.CreateAttr("xmlns:wsa", NsWSA)

	e := &Envelope{
		doc:    doc,
		Root:   root,
		Header: root.CreateElement("soap:Header"),
		Body:   root.CreateElement("soap:Body"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAddressing replaces the WS-Addressing header block. The elements are
// written in the order To, Action, MessageID, ReplyTo, RelatesTo.
func (e *Envelope) SetAddressing(a Addressing) {
	for _, el := range e.Header.ChildElements() {
		if el.Space == "wsa" {
			e.Header.RemoveChild(el)
		}
	}

	if a.To != "" {
		to := e.Header.CreateElement("wsa:To")
		to.CreateAttr("soap:mustUnderstand", "true")
		to.SetText(a.To)
	}
	if a.Action != "" {
		action := e.Header.CreateElement("wsa:Action")
		action.CreateAttr("soap:mustUnderstand", "true")
		action.SetText(a.Action)
	}
	if a.MessageID != "" {
		e.Header.CreateElement("wsa:MessageID").SetText(a.MessageID)
	}
	if a.ReplyTo != "" {
		replyTo := e.Header.CreateElement("wsa:ReplyTo")
		replyTo.CreateElement("wsa:Address").SetText(a.ReplyTo)
	}
	if a.RelatesTo != "" {
		e.Header.CreateElement("wsa:RelatesTo").SetText(a.RelatesTo)
	}
}

// PrependHeader inserts el as the first header child, ahead of the
// addressing block.
func (e *Envelope) PrependHeader(el *etree.Element) {
	e.Header.InsertChildAt(0, el)
}

// Document returns the underlying DOM
func (e *Envelope) Document() *etree.Document {
	return e.doc
}

// Bytes serializes the envelope
func (e *Envelope) Bytes() ([]byte, error) {
	data, err := e.doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing envelope: %w", err)
	}
	return data, nil
}

// NewFaultEnvelope builds a SOAP 1.2 fault response
func NewFaultEnvelope(code, subcode, reason string, a Addressing) *Envelope {
	env := NewEnvelope(WithAddressing(a))

	fault := env.Body.CreateElement("soap:Fault")
	faultCode := fault.CreateElement("soap:Code")
	faultCode.CreateElement("soap:Value").SetText("soap:" + code)
	if subcode != "" {
		faultCode.CreateElement("soap:Subcode").CreateElement("soap:Value").SetText(subcode)
	}
	text := fault.CreateElement("soap:Reason").CreateElement("soap:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(reason)
	return env
}
