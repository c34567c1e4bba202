// Package actionset holds the closed set of actions a game exposes to its
// controller, pairing each action name with a payload type and a reflected
// JSON schema, and decodes invocation payloads whose discriminant (the action
// name) arrives out of band rather than embedded in the payload itself.
package actionset

import (
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// Definition couples an action name and description with the Go type its
// payloads decode into. The schema is reflected from the payload type once,
// at definition time, so the decoder and the advertised schema cannot drift
// apart.
type Definition struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema

	payloadType reflect.Type
}

// Define builds a Definition for payload type P. A zero-field struct payload
// declares a parameterless action.
func Define[P any](name, description string) Definition {
	t := reflect.TypeOf((*P)(nil)).Elem()
	return Definition{
		Name:        name,
		Description: description,
		Schema:      reflectSchema(t),
		payloadType: t,
	}
}

// Descriptor returns the wire-level action descriptor. The schema is handed
// over as-is; sanitization happens when the descriptor is registered.
func (d Definition) Descriptor() protocol.Action {
	return protocol.Action{Name: d.Name, Description: d.Description, Schema: d.Schema}
}

// NewPayload returns a fresh zero-valued *P for this definition.
func (d Definition) NewPayload() any {
	return reflect.New(d.payloadType).Interface()
}

func reflectSchema(t reflect.Type) *jsonschema.Schema {
	if t.Kind() == reflect.Struct && t.NumField() == 0 {
		// Parameterless action. The sanitizer collapses this to an empty
		// schema on the wire.
		return &jsonschema.Schema{Type: "null"}
	}
	r := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	return r.ReflectFromType(t)
}

// Set is the closed collection of actions known to one host. It is built
// once at startup and never mutated afterwards, so it is safe for concurrent
// use.
type Set struct {
	order []string
	defs  map[string]Definition
}

// NewSet builds a Set from definitions. Duplicate or empty names are caller
// errors and are rejected.
func NewSet(defs ...Definition) (*Set, error) {
	s := &Set{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, protocol.NewError(protocol.ErrCodeValidation, "action name is empty")
		}
		if d.payloadType == nil {
			return nil, protocol.NewErrorf(protocol.ErrCodeValidation, "action %q has no payload type; build definitions with Define", d.Name)
		}
		if _, exists := s.defs[d.Name]; exists {
			return nil, protocol.NewErrorf(protocol.ErrCodeValidation, "action %q defined twice", d.Name)
		}
		s.defs[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s, nil
}

// Definitions returns all definitions in declaration order.
func (s *Set) Definitions() []Definition {
	out := make([]Definition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.defs[name])
	}
	return out
}

// Names returns all action names in declaration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Contains reports whether name is part of the set.
func (s *Set) Contains(name string) bool {
	_, ok := s.defs[name]
	return ok
}

// Len returns the number of defined actions.
func (s *Set) Len() int {
	return len(s.order)
}
