// Package protocol defines the wire format spoken between a game (the host)
// and its external controller: action descriptors, the client and server
// command envelopes, and the schema sanitizer applied before transmission.
//
// Every message is a single newline-free UTF-8 JSON document. Client commands
// (game to controller) carry a constant `game` identity field; server
// commands (controller to game) do not.
package protocol

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Command tags sent by the game.
const (
	CommandStartup           = "startup"
	CommandContext           = "context"
	CommandRegisterActions   = "actions/register"
	CommandUnregisterActions = "actions/unregister"
	CommandForceActions      = "actions/force"
	CommandActionResult      = "actions/result"
	CommandShutdownReady     = "shutdown/ready"
)

// Command tags sent by the controller.
const (
	CommandAction            = "action"
	CommandReregisterAll     = "actions/reregister_all"
	CommandGracefulShutdown  = "shutdown/graceful"
	CommandImmediateShutdown = "shutdown/immediate"
)

// ContextPayload lets the controller know about something happening in game.
type ContextPayload struct {
	// Message is a plaintext description of what is happening.
	Message string `json:"message"`
	// Silent adds the message to the controller's context without prompting
	// a direct response.
	Silent bool `json:"silent"`
}

// RegisterActionsPayload registers one or more actions. Registering an
// already-registered name is ignored by the controller (first wins).
type RegisterActionsPayload struct {
	Actions []Action `json:"actions"`
}

// UnregisterActionsPayload unregisters actions by name. Unknown names are
// not an error.
type UnregisterActionsPayload struct {
	ActionNames []string `json:"action_names"`
}

// ForceActionsPayload asks the controller to execute one of the listed
// actions as soon as possible.
type ForceActionsPayload struct {
	// State is an arbitrary description of the current game state
	// (plaintext, JSON, Markdown...). Optional.
	State *string `json:"state,omitempty"`
	// Query tells the controller what it is currently supposed to be doing.
	Query string `json:"query"`
	// EphemeralContext, when true, makes the controller forget State and
	// Query once the force completes. Optional; absent means remembered.
	EphemeralContext *bool `json:"ephemeral_context,omitempty"`
	// ActionNames are the candidates the controller must choose from.
	ActionNames []string `json:"action_names"`
}

// ActionResultPayload acknowledges an action invocation. It must be sent as
// soon as the action is validated; until then the controller waits.
//
// A success=false result for a forced action makes the controller retry the
// whole force, so a non-retriable failure should be reported as success=true
// with an error message instead.
type ActionResultPayload struct {
	// ID is taken from the action command this result answers.
	ID      string `json:"id"`
	Success bool   `json:"success"`
	// Message describes what happened; on failure it should be an error
	// message. Empty means omitted.
	Message string `json:"message,omitempty"`
}

// ActionPayload is an invocation request from the controller.
type ActionPayload struct {
	// ID uniquely identifies the invocation and correlates its result.
	ID string `json:"id"`
	// Name of the action being executed.
	Name string `json:"name"`
	// Data is the stringified action parameters. Absent means the action
	// takes no parameters.
	Data *string `json:"data,omitempty"`
}

// GracefulShutdownPayload asks the game to shut down at the next graceful
// point, or cancels a previous request.
type GracefulShutdownPayload struct {
	WantsShutdown bool `json:"wants_shutdown"`
}

// ClientCommand is a game-to-controller message. Payload holds the typed
// payload for the Command tag (*ContextPayload, *RegisterActionsPayload,
// *UnregisterActionsPayload, *ForceActionsPayload, *ActionResultPayload) or
// nil for payload-less commands (startup, shutdown/ready).
type ClientCommand struct {
	Command string
	// Game names the host. It is constant for the process and present on
	// every outbound message.
	Game    string
	Payload any
}

// ServerCommand is a controller-to-game message. Payload holds
// *ActionPayload, *GracefulShutdownPayload, or nil for payload-less control
// signals.
type ServerCommand struct {
	Command string
	Payload any
}

type envelope struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
	Game    string          `json:"game,omitempty"`
}

func marshalEnvelope(command, game string, payload any) ([]byte, error) {
	env := envelope{Command: command, Game: game}
	if payload != nil {
		data, err := codec.Marshal(payload)
		if err != nil {
			return nil, NewErrorf(ErrCodeEnvelopeParse, "marshal %s payload", command).WithCause(err)
		}
		env.Data = data
	}
	out, err := codec.Marshal(env)
	if err != nil {
		return nil, NewErrorf(ErrCodeEnvelopeParse, "marshal %s envelope", command).WithCause(err)
	}
	return out, nil
}

// MarshalJSON encodes the command as {"command":..., "data":{...}, "game":...}
// with data omitted for payload-less commands.
func (c ClientCommand) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(c.Command, c.Game, c.Payload)
}

// UnmarshalJSON decodes the envelope and resolves the typed payload from the
// command tag.
func (c *ClientCommand) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return NewError(ErrCodeEnvelopeParse, "malformed client command").WithCause(err)
	}
	payload, err := clientPayload(env.Command, env.Data)
	if err != nil {
		return err
	}
	c.Command = env.Command
	c.Game = env.Game
	c.Payload = payload
	return nil
}

func clientPayload(command string, data json.RawMessage) (any, error) {
	switch command {
	case CommandStartup, CommandShutdownReady:
		return nil, nil
	case CommandContext:
		return decodePayload[ContextPayload](command, data)
	case CommandRegisterActions:
		return decodePayload[RegisterActionsPayload](command, data)
	case CommandUnregisterActions:
		return decodePayload[UnregisterActionsPayload](command, data)
	case CommandForceActions:
		return decodePayload[ForceActionsPayload](command, data)
	case CommandActionResult:
		return decodePayload[ActionResultPayload](command, data)
	default:
		return nil, NewErrorf(ErrCodeEnvelopeParse, "unknown client command %q", command)
	}
}

// MarshalJSON encodes the command as {"command":..., "data":{...}} with data
// omitted for payload-less commands.
func (c ServerCommand) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(c.Command, "", c.Payload)
}

// UnmarshalJSON decodes the envelope and resolves the typed payload from the
// command tag.
func (c *ServerCommand) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return NewError(ErrCodeEnvelopeParse, "malformed server command").WithCause(err)
	}
	payload, err := serverPayload(env.Command, env.Data)
	if err != nil {
		return err
	}
	c.Command = env.Command
	c.Payload = payload
	return nil
}

func serverPayload(command string, data json.RawMessage) (any, error) {
	switch command {
	case CommandAction:
		p, err := decodePayload[ActionPayload](command, data)
		if err != nil {
			return nil, err
		}
		// Without both fields no result could be correlated; drop the
		// whole envelope instead of acknowledging with a bogus id.
		if p.ID == "" || p.Name == "" {
			return nil, NewError(ErrCodeEnvelopeParse, "action is missing its id or name")
		}
		return p, nil
	case CommandGracefulShutdown:
		return decodePayload[GracefulShutdownPayload](command, data)
	case CommandReregisterAll, CommandImmediateShutdown:
		return nil, nil
	default:
		return nil, NewErrorf(ErrCodeEnvelopeParse, "unknown server command %q", command)
	}
}

func decodePayload[P any](command string, data json.RawMessage) (*P, error) {
	p := new(P)
	if len(data) == 0 {
		return nil, NewErrorf(ErrCodeEnvelopeParse, "command %s is missing its data field", command)
	}
	if err := codec.Unmarshal(data, p); err != nil {
		return nil, NewErrorf(ErrCodeEnvelopeParse, "malformed %s payload", command).WithCause(err)
	}
	return p, nil
}

// ParseClientCommand decodes a raw inbound frame on the controller side.
func ParseClientCommand(data []byte) (ClientCommand, error) {
	var c ClientCommand
	if err := codec.Unmarshal(data, &c); err != nil {
		return ClientCommand{}, wrapParseErr(err)
	}
	return c, nil
}

// ParseServerCommand decodes a raw inbound frame on the game side.
func ParseServerCommand(data []byte) (ServerCommand, error) {
	var c ServerCommand
	if err := codec.Unmarshal(data, &c); err != nil {
		return ServerCommand{}, wrapParseErr(err)
	}
	return c, nil
}

func wrapParseErr(err error) error {
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return NewError(ErrCodeEnvelopeParse, "malformed envelope").WithCause(err)
}

// Encode serializes the command to a single JSON text frame.
func (c ClientCommand) Encode() ([]byte, error) { return codec.Marshal(c) }

// Encode serializes the command to a single JSON text frame.
func (c ServerCommand) Encode() ([]byte, error) { return codec.Marshal(c) }

// Constructors thread the immutable game identity into every envelope.

// NewStartup announces that the game is running. It clears all previously
// registered actions on the controller and must be the first message sent.
func NewStartup(game string) ClientCommand {
	return ClientCommand{Command: CommandStartup, Game: game}
}

// NewContext reports an in-game happening.
func NewContext(game, message string, silent bool) ClientCommand {
	return ClientCommand{Command: CommandContext, Game: game, Payload: &ContextPayload{Message: message, Silent: silent}}
}

// NewRegisterActions advertises actions to the controller.
func NewRegisterActions(game string, actions []Action) ClientCommand {
	return ClientCommand{Command: CommandRegisterActions, Game: game, Payload: &RegisterActionsPayload{Actions: actions}}
}

// NewUnregisterActions withdraws actions by name.
func NewUnregisterActions(game string, names []string) ClientCommand {
	return ClientCommand{Command: CommandUnregisterActions, Game: game, Payload: &UnregisterActionsPayload{ActionNames: names}}
}

// NewForceActions prompts the controller to pick one of the candidates.
func NewForceActions(game string, p ForceActionsPayload) ClientCommand {
	return ClientCommand{Command: CommandForceActions, Game: game, Payload: &p}
}

// NewActionResult acknowledges the invocation identified by id.
func NewActionResult(game, id string, success bool, message string) ClientCommand {
	return ClientCommand{Command: CommandActionResult, Game: game, Payload: &ActionResultPayload{ID: id, Success: success, Message: message}}
}

// NewShutdownReady reports that progress is saved and the controller may
// terminate the process.
func NewShutdownReady(game string) ClientCommand {
	return ClientCommand{Command: CommandShutdownReady, Game: game}
}

// NewAction builds a controller-side invocation request.
func NewAction(id, name string, data *string) ServerCommand {
	return ServerCommand{Command: CommandAction, Payload: &ActionPayload{ID: id, Name: name, Data: data}}
}
