package mime

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

const nsXOP = "http://www.w3.org/2004/08/xop/include"

// ErrPartNotFound is returned when an xop:Include references a missing part
var ErrPartNotFound = errors.New("referenced MIME part not found")

// Selector decides whether el carries an inline base64 payload and returns
// the payload's content type.
type Selector func(el *etree.Element) (contentType string, ok bool)

// Optimize replaces the base64 text of every element chosen by sel with an
// xop:Include placeholder and returns the decoded bytes as parts whose
// Content-ID matches the placeholder href.
func Optimize(root *etree.Element, sel Selector) ([]Part, error) {
	var parts []Part
	var walk func(el *etree.Element) error
	walk = func(el *etree.Element) error {
		if contentType, ok := sel(el); ok {
			data, err := decodeBase64(el.Text())
			if err != nil {
				return fmt.Errorf("decoding %s payload: %w", el.Tag, err)
			}
			part := NewPart(data, contentType)
			parts = append(parts, part)

			el.SetText("")
			include := el.CreateElement("xop:Include")
			include.CreateAttr("xmlns:xop", nsXOP)
			include.CreateAttr("href", "cid:"+url.PathEscape(GetContentIDWithoutBrackets(part.ContentID)))
			return nil
		}
		for _, child := range el.ChildElements() {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return parts, nil
}

// Resolve returns the payload bytes held by el: the referenced part when
// el contains an xop:Include, otherwise its base64 text.
func Resolve(el *etree.Element, m *Message) ([]byte, error) {
	if include := el.SelectElement("Include"); include != nil {
		href := include.SelectAttrValue("href", "")
		if m == nil {
			return nil, fmt.Errorf("%w: %s (message has no parts)", ErrPartNotFound, href)
		}
		part := m.GetPart(href)
		if part == nil {
			return nil, fmt.Errorf("%w: %s", ErrPartNotFound, href)
		}
		return part.Data, nil
	}
	return decodeBase64(el.Text())
}

func decodeBase64(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, text)
	return base64.StdEncoding.DecodeString(clean)
}

// NotSupported returns the outcome reported when a multipart exchange is
// requested in a direction that does not produce one.
func NotSupported(id, direction string) *ihe.OperationOutcome {
	return ihe.NewOperationOutcome(id, ihe.NewIssue(ihe.SeverityError, ihe.CodeNotSupported,
		fmt.Sprintf("multipart/related (MTOM) %s is not supported", direction)))
}
