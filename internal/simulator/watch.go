package simulator

import (
	"github.com/itchyny/gojq"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// Watch renders inbound game commands through a jq filter for condensed
// console output, e.g. `select(.command == "context") | .data.message`.
// The filter sees the same envelope shape as script rules.
type Watch struct {
	expression string
	code       *gojq.Code
}

// NewWatch parses and compiles a jq filter.
func NewWatch(expression string) (*Watch, error) {
	if expression == "" {
		return nil, protocol.NewError(protocol.ErrCodeScript, "empty jq expression")
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, protocol.NewErrorf(protocol.ErrCodeScript, "parse %q", expression).WithCause(err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, protocol.NewErrorf(protocol.ErrCodeScript, "compile %q", expression).WithCause(err)
	}
	return &Watch{expression: expression, code: code}, nil
}

// Expression returns the filter source text.
func (w *Watch) Expression() string { return w.expression }

// Render applies the filter to one command. jq filters can produce any
// number of outputs; each becomes one line. Strings render bare, everything
// else as compact JSON.
func (w *Watch) Render(cmd protocol.ClientCommand) ([]string, error) {
	iter := w.code.Run(commandEnv(cmd))

	var lines []string
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "evaluate %q", w.expression).WithCause(err)
		}
		if s, isStr := val.(string); isStr {
			lines = append(lines, s)
			continue
		}
		text, err := codec.MarshalToString(val)
		if err != nil {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "render %q output", w.expression).WithCause(err)
		}
		lines = append(lines, text)
	}
	return lines, nil
}
