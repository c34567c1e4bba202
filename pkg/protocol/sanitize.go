package protocol

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Sanitize strips redundant metadata from an action schema before it goes on
// the wire: per-node title and description (the action descriptor already
// carries the human-facing text), the root meta-schema reference, and a root
// type of exactly "null" (an empty-parameter schema collapses to no
// constraint at all).
//
// The input is never mutated; the result is a deep copy. A schema stays
// owned by the descriptor it was reflected for, so registration can run
// concurrently with anything else holding the original tree. Applying
// Sanitize twice yields the same result as applying it once, and it never
// rejects a tree.
func Sanitize(schema *jsonschema.Schema) *jsonschema.Schema {
	if schema == nil {
		return nil
	}
	out := cloneNode(schema)
	sanitizeNode(out)
	out.Version = ""
	if out.Type == "null" {
		out.Type = ""
	}
	return out
}

func cloneNode(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	c := *s

	if s.Properties != nil {
		props := orderedmap.New[string, *jsonschema.Schema]()
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props.Set(pair.Key, cloneNode(pair.Value))
		}
		c.Properties = props
	}
	c.PatternProperties = cloneMap(s.PatternProperties)
	c.AdditionalProperties = cloneNode(s.AdditionalProperties)
	c.PropertyNames = cloneNode(s.PropertyNames)

	c.Items = cloneNode(s.Items)
	c.PrefixItems = cloneSlice(s.PrefixItems)
	c.Contains = cloneNode(s.Contains)

	c.AllOf = cloneSlice(s.AllOf)
	c.AnyOf = cloneSlice(s.AnyOf)
	c.OneOf = cloneSlice(s.OneOf)
	c.Not = cloneNode(s.Not)
	c.If = cloneNode(s.If)
	c.Then = cloneNode(s.Then)
	c.Else = cloneNode(s.Else)

	c.Definitions = cloneMap(s.Definitions)
	c.DependentSchemas = cloneMap(s.DependentSchemas)

	if s.Required != nil {
		c.Required = append([]string(nil), s.Required...)
	}
	return &c
}

func cloneMap[M ~map[string]*jsonschema.Schema](m M) M {
	if m == nil {
		return nil
	}
	out := make(M, len(m))
	for k, v := range m {
		out[k] = cloneNode(v)
	}
	return out
}

func cloneSlice(subs []*jsonschema.Schema) []*jsonschema.Schema {
	if subs == nil {
		return nil
	}
	out := make([]*jsonschema.Schema, len(subs))
	for i, sub := range subs {
		out[i] = cloneNode(sub)
	}
	return out
}

func sanitizeNode(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.Title = ""
	s.Description = ""

	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			sanitizeNode(pair.Value)
		}
	}
	for _, sub := range s.PatternProperties {
		sanitizeNode(sub)
	}
	sanitizeNode(s.AdditionalProperties)
	sanitizeNode(s.PropertyNames)

	sanitizeNode(s.Items)
	for _, sub := range s.PrefixItems {
		sanitizeNode(sub)
	}
	sanitizeNode(s.Contains)

	for _, sub := range s.AllOf {
		sanitizeNode(sub)
	}
	for _, sub := range s.AnyOf {
		sanitizeNode(sub)
	}
	for _, sub := range s.OneOf {
		sanitizeNode(sub)
	}
	sanitizeNode(s.Not)
	sanitizeNode(s.If)
	sanitizeNode(s.Then)
	sanitizeNode(s.Else)

	for _, sub := range s.Definitions {
		sanitizeNode(sub)
	}
	for _, sub := range s.DependentSchemas {
		sanitizeNode(sub)
	}
}
