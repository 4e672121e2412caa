//go:build libxml2

package message

import (
	"errors"
	"fmt"

	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/xsd"
)

type xsdValidator struct {
	schema *xsd.Schema
}

// NewSchemaValidator loads the XSD at path. An empty path yields a validator
// that accepts everything.
func NewSchemaValidator(path string) (SchemaValidator, error) {
	if path == "" {
		return NopValidator{}, nil
	}
	schema, err := xsd.ParseFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", path, err)
	}
	return &xsdValidator{schema: schema}, nil
}

func (v *xsdValidator) Validate(payload []byte) error {
	doc, err := libxml2.Parse(payload)
	if err != nil {
		return &ValidationError{Violations: []string{err.Error()}}
	}
	defer doc.Free()

	if err := v.schema.Validate(doc); err != nil {
		var verr xsd.SchemaValidationError
		if errors.As(err, &verr) {
			violations := make([]string, 0, len(verr.Errors()))
			for _, e := range verr.Errors() {
				violations = append(violations, e.Error())
			}
			return &ValidationError{Violations: violations}
		}
		return &ValidationError{Violations: []string{err.Error()}}
	}
	return nil
}
