// Package openapi serves the API description and validates request bodies
// against its schemas.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

// Document returns the raw OpenAPI document.
func Document() []byte {
	return document
}

type Validator struct {
	doc *openapi3.T
}

// Load parses and validates the embedded document.
func Load(ctx context.Context) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return &Validator{doc: doc}, nil
}

// Version is the info.version of the document.
func (v *Validator) Version() string {
	return v.doc.Info.Version
}

// Validate checks value, a decoded JSON tree, against the named component
// schema and returns one human readable issue per violation.
func (v *Validator) Validate(schema string, value any) []string {
	if v.doc.Components == nil {
		return []string{"openapi document has no components"}
	}
	ref, ok := v.doc.Components.Schemas[schema]
	if !ok || ref.Value == nil {
		return []string{fmt.Sprintf("unknown schema %q", schema)}
	}
	err := ref.Value.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return issues(err)
}

func issues(err error) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []string
		for _, e := range multi {
			out = append(out, issues(e)...)
		}
		return out
	}
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		reason := schemaErr.Reason
		if reason == "" {
			reason = fmt.Sprintf("does not match %q", schemaErr.SchemaField)
		}
		path := strings.Join(schemaErr.JSONPointer(), ".")
		if path == "" {
			return []string{reason}
		}
		return []string{path + ": " + reason}
	}
	return []string{err.Error()}
}
