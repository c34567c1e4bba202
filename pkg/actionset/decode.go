package actionset

import (
	"strings"
	"unicode"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// Decoded is a typed action invocation. Payload is a pointer to the payload
// type the action was defined with (e.g. *Move); hosts type-switch on it.
type Decoded struct {
	Name    string
	Payload any
}

// Decode parses data leniently, resolves name against the set, and decodes
// the payload into the matching type. The discriminant is supplied here, out
// of band; the payload text itself carries no tag.
//
// Controller-authored payloads are decoded leniently (JSON5: trailing commas,
// comments, unquoted keys), which subsumes strict JSON. An absent or blank
// payload decodes as the unit value, for parameterless actions. When the
// lenient decode fails but the payload is effectively empty once whitespace
// is removed ("" or "{}"), it is retried as the unit value; otherwise the
// decode error is reported — a syntax error wins over an unknown name, since
// the payload is inspected before the discriminant is resolved.
func (s *Set) Decode(name string, data *string) (Decoded, error) {
	unit := data == nil || strings.TrimSpace(*data) == ""
	if !unit {
		var value any
		if err := json5.Unmarshal([]byte(*data), &value); err != nil {
			compact := stripSpace(*data)
			if compact != "" && compact != "{}" {
				return Decoded{}, protocol.NewErrorf(protocol.ErrCodeMalformedPayload, "%s", err.Error()).WithAction(name).WithCause(err)
			}
			unit = true
		}
	}

	def, ok := s.defs[name]
	if !ok {
		return Decoded{}, protocol.NewErrorf(protocol.ErrCodeUnknownAction, "unknown action %q", name).WithAction(name)
	}

	payload := def.NewPayload()
	if unit {
		return Decoded{Name: name, Payload: payload}, nil
	}
	if err := json5.Unmarshal([]byte(*data), payload); err != nil {
		return Decoded{}, protocol.NewErrorf(protocol.ErrCodeMalformedPayload, "%s", err.Error()).WithAction(name).WithCause(err)
	}
	return Decoded{Name: name, Payload: payload}, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
