/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Generator reflects Go types into JSON schemas for tool inputs.
type Generator struct {
	reflector jsonschema.Reflector
}

// NewGenerator returns a Generator that inlines nested types and honors
// `jsonschema:"required"` tags.
func NewGenerator() *Generator {
	return &Generator{
		reflector: jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			AllowAdditionalProperties:  true,
			DoNotReference:             true,
		},
	}
}

// Reflect returns the JSON schema for v.
func (g *Generator) Reflect(v any) *jsonschema.Schema {
	return g.reflector.Reflect(v)
}

// Reflect derives the JSON schema for v with a default Generator.
func Reflect(v any) *jsonschema.Schema {
	return NewGenerator().Reflect(v)
}

// ReflectType reflects the zero value of T.
func ReflectType[T any]() *jsonschema.Schema {
	var zero T
	return Reflect(&zero)
}

// Object is the top-level shape of an object schema, in the plain form
// model APIs accept for tool input schemas.
type Object struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// ObjectFor reflects T and flattens the result into an Object. T must be
// a struct type.
func ObjectFor[T any]() (Object, error) {
	s := ReflectType[T]()
	if s.Type != "object" {
		return Object{}, fmt.Errorf("schema for %T has type %q, wanted object", *new(T), s.Type)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return Object{}, fmt.Errorf("marshaling schema: %w", err)
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Object{}, fmt.Errorf("unmarshaling schema: %w", err)
	}
	if obj.Properties == nil {
		obj.Properties = map[string]any{}
	}
	return obj, nil
}
