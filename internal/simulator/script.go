package simulator

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// Rule is one scripted reaction: when the expression evaluates to true
// against an inbound game command, the simulator answers with the named
// action. Expressions see the envelope as `command`, `game`, and `data`
// (the payload as a plain map), e.g.
//
//	command == "actions/force" && "shoot" in data.action_names
type Rule struct {
	Name   string `json:"name,omitempty"`
	When   string `json:"when"`
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
}

// Reaction is a matched rule's reply.
type Reaction struct {
	Action string
	Data   *string
}

// Script evaluates rules in order and reports the first match. Compiled
// programs are cached and reused across goroutines.
type Script struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
	rules []Rule
}

// NewScript builds a Script, rejecting rules without a condition or action.
func NewScript(rules []Rule) (*Script, error) {
	for i, rule := range rules {
		if rule.When == "" {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "rule %d has an empty when expression", i)
		}
		if rule.Action == "" {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "rule %d has no action", i)
		}
	}
	return &Script{cache: make(map[string]*vm.Program), rules: rules}, nil
}

// ParseScript decodes a JSON array of rules.
func ParseScript(data []byte) (*Script, error) {
	var rules []Rule
	if err := codec.Unmarshal(data, &rules); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeScript, "malformed script").WithCause(err)
	}
	return NewScript(rules)
}

// React evaluates the rules against one inbound command and returns the
// first matching reaction, or nil when nothing matches.
func (s *Script) React(cmd protocol.ClientCommand) (*Reaction, error) {
	env := commandEnv(cmd)
	for _, rule := range s.rules {
		prg, err := s.getOrCompile(rule.When)
		if err != nil {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "compile %q", rule.When).WithCause(err)
		}
		out, err := vm.Run(prg, env)
		if err != nil {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "evaluate %q", rule.When).WithCause(err)
		}
		matched, ok := out.(bool)
		if !ok {
			return nil, protocol.NewErrorf(protocol.ErrCodeScript, "expression %q did not yield a boolean", rule.When)
		}
		if !matched {
			continue
		}
		reaction := &Reaction{Action: rule.Action}
		if rule.Data != "" {
			data := rule.Data
			reaction.Data = &data
		}
		return reaction, nil
	}
	return nil, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (s *Script) getOrCompile(expression string) (*vm.Program, error) {
	s.mu.RLock()
	if prg, ok := s.cache[expression]; ok {
		s.mu.RUnlock()
		return prg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := s.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	s.cache[expression] = prg
	return prg, nil
}

// commandEnv exposes an envelope to expressions as plain data.
func commandEnv(cmd protocol.ClientCommand) map[string]any {
	env := map[string]any{
		"command": cmd.Command,
		"game":    cmd.Game,
		"data":    map[string]any{},
	}
	if cmd.Payload == nil {
		return env
	}
	raw, err := codec.Marshal(cmd.Payload)
	if err != nil {
		return env
	}
	var m map[string]any
	if err := codec.Unmarshal(raw, &m); err != nil {
		return env
	}
	env["data"] = m
	return env
}
