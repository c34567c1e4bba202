// Package simulator implements the controller side of the action protocol
// for development use: it mirrors the game's registered actions, tracks an
// in-flight forced choice, validates operator-authored payloads against the
// advertised schemas, and can react to game traffic with scripted replies.
package simulator

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// pendingForce tracks one in-flight forced choice. The correlation id stays
// empty until the operator actually sends the chosen action; it is assigned
// at send time, not at force time.
type pendingForce struct {
	correlationID string
	query         string
	names         []string
	state         *string
}

// Simulator is the reference-client state for a single game conversation.
// All methods are safe for concurrent use; mutation is serialized by one
// mutex, keeping the registry and the force tracker consistent.
type Simulator struct {
	mu     sync.Mutex
	logger *slog.Logger

	game           string
	actions        map[string]protocol.Action
	pending        *pendingForce
	state          string
	contextMessage string
	contextSilent  bool
	lastMessage    string

	validator *Validator
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) { s.logger = logger }
}

// New creates an empty Simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		logger:    slog.Default(),
		actions:   make(map[string]protocol.Action),
		validator: NewValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply folds one inbound game command into the simulator state.
func (s *Simulator) Apply(cmd protocol.ClientCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == "" {
		s.game = cmd.Game
	} else if cmd.Game != "" && cmd.Game != s.game {
		s.logger.Warn("game identity changed mid-conversation",
			slog.String("was", s.game), slog.String("now", cmd.Game))
		s.game = cmd.Game
	}

	switch p := cmd.Payload.(type) {
	case *protocol.RegisterActionsPayload:
		for _, action := range p.Actions {
			// First registration wins; re-registering a name is ignored.
			if _, exists := s.actions[action.Name]; exists {
				continue
			}
			s.actions[action.Name] = action
		}
	case *protocol.UnregisterActionsPayload:
		for _, name := range p.ActionNames {
			delete(s.actions, name)
		}
	case *protocol.ForceActionsPayload:
		if p.EphemeralContext == nil || !*p.EphemeralContext {
			if p.State != nil {
				s.state = *p.State
			} else {
				s.state = ""
			}
		}
		names := make([]string, len(p.ActionNames))
		copy(names, p.ActionNames)
		s.pending = &pendingForce{query: p.Query, names: names, state: p.State}
	case *protocol.ActionResultPayload:
		if p.Success {
			s.lastMessage = "success: " + p.Message
		} else {
			s.lastMessage = "failure: " + p.Message
		}
		// Only a successful result for the tracked id closes the force.
		// Failures mean the choice will be retried and keep the force open.
		if p.Success && s.pending != nil && s.pending.correlationID != "" && s.pending.correlationID == p.ID {
			s.pending = nil
		}
	case *protocol.ContextPayload:
		s.contextMessage = p.Message
		s.contextSilent = p.Silent
	default:
		switch cmd.Command {
		case protocol.CommandStartup:
			// Startup resets the conversation: all previously registered
			// actions are dropped and any stale force is abandoned.
			s.actions = make(map[string]protocol.Action)
			s.pending = nil
		case protocol.CommandShutdownReady:
			s.lastMessage = "game reports shutdown ready"
		}
	}
}

// BuildAction assembles an invocation request for the named action with a
// freshly generated correlation id. If a forced choice is pending, the id is
// recorded so the eventual result can close it.
func (s *Simulator) BuildAction(name string, data *string) (protocol.ServerCommand, error) {
	if name == "" {
		return protocol.ServerCommand{}, protocol.NewError(protocol.ErrCodeValidation, "no action selected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if s.pending != nil {
		s.pending.correlationID = id
	}
	return protocol.NewAction(id, name, data), nil
}

// ValidatePayload checks operator-authored payload text against the
// registered schema for name. Validation failures do not block sending; the
// operator may deliberately exercise the game's error paths.
func (s *Simulator) ValidatePayload(name string, data *string) error {
	s.mu.Lock()
	action, ok := s.actions[name]
	s.mu.Unlock()
	if !ok {
		return protocol.NewErrorf(protocol.ErrCodeUnknownAction, "action %q is not registered", name).WithAction(name)
	}
	return s.validator.Validate(action, data)
}

// Selectable returns the names the operator may currently choose from:
// the pending force's candidates while one is tracked (less any that were
// unregistered in the meantime), otherwise every registered action sorted
// by name.
func (s *Simulator) Selectable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectableLocked()
}

func (s *Simulator) selectableLocked() []string {
	if s.pending != nil {
		names := make([]string, 0, len(s.pending.names))
		for _, name := range s.pending.names {
			if _, ok := s.actions[name]; ok {
				names = append(names, name)
			}
		}
		return names
	}
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registered returns the descriptor for name, if known.
func (s *Simulator) Registered(name string) (protocol.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[name]
	return action, ok
}

// Snapshot is a coherent view of the simulator for display and assertions.
type Snapshot struct {
	Game           string
	Selectable     []string
	AwaitingResult bool
	PendingQuery   string
	PendingState   *string
	State          string
	ContextMessage string
	ContextSilent  bool
	LastMessage    string
}

// Snapshot returns the current state under one lock acquisition.
func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Game:           s.game,
		Selectable:     s.selectableLocked(),
		State:          s.state,
		ContextMessage: s.contextMessage,
		ContextSilent:  s.contextSilent,
		LastMessage:    s.lastMessage,
	}
	if s.pending != nil {
		snap.AwaitingResult = true
		snap.PendingQuery = s.pending.query
		snap.PendingState = s.pending.state
	}
	return snap
}
