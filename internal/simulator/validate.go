package simulator

import (
	"bytes"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strayfield/gamewire/pkg/protocol"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const actionSchemaURL = "https://gamewire.dev/schemas/action-payload.json"

// Validator checks payload documents against registered action schemas.
// Compiled schemas are cached and reused across calls; safe for concurrent use.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates an empty Validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks data against the action's schema. A nil schema means no
// constraint. Absent data is validated as the JSON null document, which an
// empty or null-typed schema accepts.
func (v *Validator) Validate(action protocol.Action, data *string) error {
	if action.Schema == nil {
		return nil
	}
	raw, err := codec.Marshal(action.Schema)
	if err != nil {
		return protocol.NewError(protocol.ErrCodeValidation, "registered schema does not serialize").
			WithCause(err).WithAction(action.Name)
	}

	compiled, err := v.getOrCompile(raw)
	if err != nil {
		return protocol.NewError(protocol.ErrCodeValidation, "registered schema does not compile").
			WithCause(err).WithAction(action.Name)
	}

	var instance any
	if data != nil {
		instance, err = jsonschema.UnmarshalJSON(strings.NewReader(*data))
		if err != nil {
			return protocol.NewError(protocol.ErrCodeValidation, "payload is not valid JSON").
				WithCause(err).WithAction(action.Name)
		}
	}

	if err := compiled.Validate(instance); err != nil {
		return protocol.NewErrorf(protocol.ErrCodeValidation, "payload does not match schema: %s", err.Error()).
			WithCause(err).WithAction(action.Name)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *Validator) getOrCompile(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(actionSchemaURL, doc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(actionSchemaURL)
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}
