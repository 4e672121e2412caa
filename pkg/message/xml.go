package message

import (
	"strings"

	"github.com/beevik/etree"
)

// Child walks path from el by local name and returns the element found, or nil
func Child(el *etree.Element, path ...string) *etree.Element {
	for _, tag := range path {
		if el == nil {
			return nil
		}
		el = el.SelectElement(tag)
	}
	return el
}

// Children returns the child elements of the element at path named tag
func Children(el *etree.Element, tag string, path ...string) []*etree.Element {
	parent := Child(el, path...)
	if parent == nil {
		return nil
	}
	return parent.SelectElements(tag)
}

// Text returns the trimmed text of the element at path, or ""
func Text(el *etree.Element, path ...string) string {
	el = Child(el, path...)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// Attr returns the trimmed value of attribute key on el, or ""
func Attr(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.SelectAttrValue(key, ""))
}

// AttrAt returns attribute key of the element at path
func AttrAt(el *etree.Element, key string, path ...string) string {
	return Attr(Child(el, path...), key)
}

// Element creates a detached element with the given qualified tag and
// attribute pairs.
func Element(tag string, attrs ...string) *etree.Element {
	el := etree.NewElement(tag)
	for i := 0; i+1 < len(attrs); i += 2 {
		el.CreateAttr(attrs[i], attrs[i+1])
	}
	return el
}

// Add creates a child element with the given qualified tag and attribute pairs
func Add(parent *etree.Element, tag string, attrs ...string) *etree.Element {
	el := Element(tag, attrs...)
	parent.AddChild(el)
	return el
}

// AddText creates a child element holding text, unless text is empty
func AddText(parent *etree.Element, tag, text string, attrs ...string) *etree.Element {
	if text == "" {
		return nil
	}
	el := Add(parent, tag, attrs...)
	el.SetText(text)
	return el
}
