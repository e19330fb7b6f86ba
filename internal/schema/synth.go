// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema synthesizes JSON-Schema draft-07 documents from a
// handler's input and output Go types, for the Registration Helper to
// push to the server alongside the task definition.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/worker"
)

// ForInput synthesizes the input schema for h. It falls back to
// h.InputExample when Execute's parameter type can't be reflected
// directly (typically because it was declared as any). It returns
// (nil, nil) when no schema can be produced; the caller registers
// without one.
func ForInput(h worker.Handler, strict bool) (client.Schema, error) {
	t := h.InputType()
	if (t == nil || t.Kind() == reflect.Interface) && h.InputExample != nil {
		t = reflect.TypeOf(h.InputExample)
	}
	return Synthesize(t, strict)
}

// ForOutput synthesizes the output schema for h's declared return type.
func ForOutput(h worker.Handler, strict bool) (client.Schema, error) {
	return Synthesize(h.OutputType(), strict)
}

// Synthesize reflects t into a JSON-Schema draft-07 document. strict
// controls additionalProperties on every generated object schema:
// true forces it closed, false leaves it open. Synthesize returns
// (nil, nil), never an error, when t is nil, an interface type with no
// concrete substitute, or contains a field whose type has no JSON
// Schema representation (channels, funcs, complex numbers).
func Synthesize(t reflect.Type, strict bool) (client.Schema, error) {
	if t == nil {
		return nil, nil
	}
	underlying := t
	if underlying.Kind() == reflect.Ptr {
		underlying = underlying.Elem()
	}
	if underlying.Kind() == reflect.Interface {
		return nil, nil
	}
	if hasUntranslatableType(underlying, make(map[reflect.Type]bool)) {
		return nil, nil
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	raw, err := reflectSafely(reflector, underlying)
	if err != nil {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal reflected schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode reflected schema: %w", err)
	}

	annotate(underlying, doc, strict)
	delete(doc, "$schema")
	return client.Schema(doc), nil
}

// reflectSafely isolates the reflector call: invopop/jsonschema panics
// on a handful of unsupported kinds rather than returning an error.
func reflectSafely(r *jsonschema.Reflector, t reflect.Type) (schema *jsonschema.Schema, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("schema: unable to reflect %s: %v", t, rec)
		}
	}()
	return r.ReflectFromType(t), nil
}

// hasUntranslatableType reports whether t or any field reachable from
// it has a kind with no JSON Schema representation. seen guards
// against infinite recursion on self-referential struct types.
func hasUntranslatableType(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Ptr:
		return hasUntranslatableType(t.Elem(), seen)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Struct:
		if seen[t] {
			return false
		}
		seen[t] = true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			if hasUntranslatableType(f.Type, seen) {
				return true
			}
		}
		return false
	case reflect.Slice, reflect.Array:
		return hasUntranslatableType(t.Elem(), seen)
	case reflect.Map:
		return hasUntranslatableType(t.Elem(), seen)
	default:
		return false
	}
}

// annotate walks node, the JSON-Schema document reflected from t,
// enforcing additionalProperties per strict on every object schema and
// recomputing required so that a pointer-typed field (this package's
// realization of an optional, nullable-union type) is both marked
// nullable and excluded from required. It descends into struct fields,
// slice items, and map value schemas.
func annotate(t reflect.Type, node map[string]any, strict bool) {
	if node == nil || t == nil {
		return
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		props, _ := node["properties"].(map[string]any)
		node["additionalProperties"] = !strict

		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name, omitempty, skip := jsonFieldName(f)
			if skip {
				continue
			}
			child, _ := props[name].(map[string]any)
			nullable := f.Type.Kind() == reflect.Ptr
			if nullable && child != nil {
				child["nullable"] = true
			}
			if child != nil {
				annotate(f.Type, child, strict)
			}
			hasDefault := f.Tag.Get("default") != ""
			if !nullable && !omitempty && !hasDefault {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		if len(required) > 0 {
			node["required"] = required
		} else {
			delete(node, "required")
		}

	case reflect.Slice, reflect.Array:
		if items, ok := node["items"].(map[string]any); ok {
			annotate(t.Elem(), items, strict)
		}

	case reflect.Map:
		if ap, ok := node["additionalProperties"].(map[string]any); ok {
			annotate(t.Elem(), ap, strict)
		}
	}
}

// jsonFieldName derives the property name and omitempty-ness that
// encoding/json would use for f, and reports whether f is excluded
// entirely (json:"-").
func jsonFieldName(f reflect.StructField) (name string, omitempty bool, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = f.Name
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}
