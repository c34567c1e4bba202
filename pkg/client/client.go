// Package client implements the game side of the action protocol: it builds
// outbound command envelopes, decodes inbound invocations against the host's
// action set, runs the host's handler, and acknowledges every invocation with
// a correlated result.
package client

import (
	"context"
	"log/slog"

	"github.com/strayfield/gamewire/internal/logging"
	"github.com/strayfield/gamewire/pkg/actionset"
	"github.com/strayfield/gamewire/pkg/protocol"
)

// Transport is the ordered, reliable, message-oriented duplex channel the
// client sends on. Send failures are surfaced to the caller untouched;
// retrying is the transport's or host's business.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// Handler is implemented by the game.
type Handler interface {
	// HandleAction runs a decoded invocation and returns an optional message
	// for the controller. A nil error acknowledges the action as successful.
	// A non-nil error produces a failed result: the returned message is used
	// if non-empty, otherwise the error text. Note that a failed result for
	// a forced action makes the controller retry the force; return a nil
	// error with an explanatory message to fail without a retry.
	//
	// The result should be returned as soon as the action is validated,
	// usually before it actually plays out in game.
	HandleAction(ctx context.Context, action actionset.Decoded) (message string, err error)

	// ReregisterActions is called when the full action set must be
	// advertised again: after Startup and when the controller explicitly
	// asks for reregistration.
	ReregisterActions(ctx context.Context)
}

// ShutdownHandler is optionally implemented by games that the controller can
// launch and stop by itself. The client never emits anything on behalf of
// these callbacks; the game answers with ShutdownReady once saved.
type ShutdownHandler interface {
	// GracefulShutdownWanted reports the latest shutdown request state;
	// false cancels a previous request.
	GracefulShutdownWanted(ctx context.Context, wantsShutdown bool)
	// ImmediateShutdown asks the game to save whatever it can right now.
	ImmediateShutdown(ctx context.Context)
}

// ForceRequest configures an actions/force command. Query and ActionNames
// are required; the rest default to absent on the wire.
type ForceRequest struct {
	// Query tells the controller what it is supposed to be doing right now.
	Query string
	// ActionNames are the candidates the controller must pick from.
	ActionNames []string
	// State optionally describes the current game state in any text format.
	State *string
	// EphemeralContext, when set, controls whether the controller remembers
	// Query and State after the force completes. Nil leaves the protocol
	// default (remembered).
	EphemeralContext *bool
}

// Client is the dispatcher for one game/controller conversation. The game
// identity is fixed at construction and stamped on every outbound envelope.
//
// Startup must be called before any other operation, and again whenever the
// underlying connection is reopened. That obligation is documented rather
// than enforced.
type Client struct {
	game      string
	set       *actionset.Set
	handler   Handler
	transport Transport
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the given game identity, closed action set,
// handler, and transport.
func New(game string, set *actionset.Set, handler Handler, transport Transport, opts ...Option) *Client {
	c := &Client{
		game:      game,
		set:       set,
		handler:   handler,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Game returns the immutable game identity.
func (c *Client) Game() string { return c.game }

// Startup sends the startup command and, on success, invokes the handler's
// ReregisterActions callback so the controller learns the action set anew.
func (c *Client) Startup(ctx context.Context) error {
	if err := c.send(ctx, protocol.NewStartup(c.game)); err != nil {
		return err
	}
	c.handler.ReregisterActions(ctx)
	return nil
}

// Context reports an in-game happening. Silent messages are added to the
// controller's context without prompting a response.
func (c *Client) Context(ctx context.Context, message string, silent bool) error {
	return c.send(ctx, protocol.NewContext(c.game, message, silent))
}

// RegisterActions advertises the given definitions. Each descriptor's schema
// is sanitized before transmission. Duplicate names across calls are not
// merged here; the controller keeps the last registration.
func (c *Client) RegisterActions(ctx context.Context, defs ...actionset.Definition) error {
	actions := make([]protocol.Action, 0, len(defs))
	for _, def := range defs {
		desc := def.Descriptor()
		desc.Schema = protocol.Sanitize(desc.Schema)
		actions = append(actions, desc)
	}
	return c.send(ctx, protocol.NewRegisterActions(c.game, actions))
}

// RegisterAll advertises every definition in the action set.
func (c *Client) RegisterAll(ctx context.Context) error {
	return c.RegisterActions(ctx, c.set.Definitions()...)
}

// UnregisterActions withdraws actions by name. Unregistering a name the
// controller does not know is a no-op on its side, not an error.
func (c *Client) UnregisterActions(ctx context.Context, names ...string) error {
	return c.send(ctx, protocol.NewUnregisterActions(c.game, names))
}

// ForceActions prompts the controller to execute one of the candidates as
// soon as possible.
func (c *Client) ForceActions(ctx context.Context, req ForceRequest) error {
	return c.send(ctx, protocol.NewForceActions(c.game, protocol.ForceActionsPayload{
		State:            req.State,
		Query:            req.Query,
		EphemeralContext: req.EphemeralContext,
		ActionNames:      req.ActionNames,
	}))
}

// ActionResult acknowledges the invocation identified by id. HandleMessage
// normally sends results itself; this is exported for hosts that answer out
// of band.
func (c *Client) ActionResult(ctx context.Context, id string, success bool, message string) error {
	return c.send(ctx, protocol.NewActionResult(c.game, id, success, message))
}

// ShutdownReady answers a shutdown request once progress has been saved.
func (c *Client) ShutdownReady(ctx context.Context) error {
	return c.send(ctx, protocol.NewShutdownReady(c.game))
}

// HandleMessage processes one inbound frame to completion. For an action
// command it decodes the payload, runs the handler, and emits exactly one
// correlated result; a payload that cannot be decoded is acknowledged with a
// failed result and never reaches the handler. Control signals invoke the
// matching callback and emit nothing.
//
// A frame whose envelope cannot be parsed at all is dropped with an error:
// no id could be extracted, so nothing is acknowledged.
func (c *Client) HandleMessage(ctx context.Context, data []byte) error {
	cmd, err := protocol.ParseServerCommand(data)
	if err != nil {
		return err
	}
	ctx = logging.WithCommand(logging.WithGame(ctx, c.game), cmd.Command)

	switch p := cmd.Payload.(type) {
	case *protocol.ActionPayload:
		return c.handleAction(logging.WithActionID(ctx, p.ID), p)
	case *protocol.GracefulShutdownPayload:
		if sh, ok := c.handler.(ShutdownHandler); ok {
			sh.GracefulShutdownWanted(ctx, p.WantsShutdown)
		}
		return nil
	default:
		switch cmd.Command {
		case protocol.CommandReregisterAll:
			c.handler.ReregisterActions(ctx)
		case protocol.CommandImmediateShutdown:
			if sh, ok := c.handler.(ShutdownHandler); ok {
				sh.ImmediateShutdown(ctx)
			}
		}
		return nil
	}
}

func (c *Client) handleAction(ctx context.Context, p *protocol.ActionPayload) error {
	decoded, err := c.set.Decode(p.Name, p.Data)
	if err != nil {
		c.logger.WarnContext(ctx, "action decode failed", slog.String("name", p.Name), slog.String("error", err.Error()))
		return c.ActionResult(ctx, p.ID, false, "Failed to deserialize action data: "+err.Error())
	}

	message, herr := c.handler.HandleAction(ctx, decoded)
	if herr != nil {
		if message == "" {
			message = herr.Error()
		}
		return c.ActionResult(ctx, p.ID, false, message)
	}
	return c.ActionResult(ctx, p.ID, true, message)
}

func (c *Client) send(ctx context.Context, cmd protocol.ClientCommand) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return protocol.NewErrorf(protocol.ErrCodeTransport, "send %s", cmd.Command).WithCause(err)
	}
	return nil
}
