package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strayfield/gamewire/pkg/actionset"
	"github.com/strayfield/gamewire/pkg/protocol"
)

type movePayload struct {
	X uint32 `json:"x" jsonschema:"description=Column to move to"`
	Y uint32 `json:"y" jsonschema:"description=Row to move to"`
}

type shootPayload struct{}

// fakeTransport records every frame, decoded back into envelopes.
type fakeTransport struct {
	mu     sync.Mutex
	frames []protocol.ClientCommand
	raw    [][]byte
	err    error
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	if f.err != nil {
		return f.err
	}
	cmd, err := protocol.ParseClientCommand(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, cmd)
	f.raw = append(f.raw, data)
	f.mu.Unlock()
	return nil
}

type fakeHandler struct {
	actions      []actionset.Decoded
	message      string
	err          error
	reregistered int
	onReregister func(ctx context.Context)

	gracefulCalls  []bool
	immediateCalls int
}

func (f *fakeHandler) HandleAction(_ context.Context, action actionset.Decoded) (string, error) {
	f.actions = append(f.actions, action)
	return f.message, f.err
}

func (f *fakeHandler) ReregisterActions(ctx context.Context) {
	f.reregistered++
	if f.onReregister != nil {
		f.onReregister(ctx)
	}
}

func (f *fakeHandler) GracefulShutdownWanted(_ context.Context, wantsShutdown bool) {
	f.gracefulCalls = append(f.gracefulCalls, wantsShutdown)
}

func (f *fakeHandler) ImmediateShutdown(context.Context) {
	f.immediateCalls++
}

func newTestClient(t *testing.T) (*Client, *fakeTransport, *fakeHandler) {
	t.Helper()
	set, err := actionset.NewSet(
		actionset.Define[movePayload]("move", "Move to a grid position."),
		actionset.Define[shootPayload]("shoot", "Fire the weapon."),
	)
	require.NoError(t, err)
	transport := &fakeTransport{}
	handler := &fakeHandler{}
	return New("Test Game", set, handler, transport), transport, handler
}

func actionFrame(t *testing.T, id, name string, data *string) []byte {
	t.Helper()
	raw, err := protocol.NewAction(id, name, data).Encode()
	require.NoError(t, err)
	return raw
}

func lastResult(t *testing.T, transport *fakeTransport) *protocol.ActionResultPayload {
	t.Helper()
	require.NotEmpty(t, transport.frames)
	frame := transport.frames[len(transport.frames)-1]
	require.Equal(t, protocol.CommandActionResult, frame.Command)
	p, ok := frame.Payload.(*protocol.ActionResultPayload)
	require.True(t, ok)
	return p
}

func TestStartupTriggersReregistration(t *testing.T) {
	cli, transport, handler := newTestClient(t)
	handler.onReregister = func(ctx context.Context) {
		require.NoError(t, cli.RegisterAll(ctx))
	}

	require.NoError(t, cli.Startup(context.Background()))

	require.Len(t, transport.frames, 2)
	assert.Equal(t, protocol.CommandStartup, transport.frames[0].Command)
	assert.Equal(t, "Test Game", transport.frames[0].Game)
	assert.Equal(t, protocol.CommandRegisterActions, transport.frames[1].Command)

	reg := transport.frames[1].Payload.(*protocol.RegisterActionsPayload)
	require.Len(t, reg.Actions, 2)
	assert.Equal(t, "move", reg.Actions[0].Name)
	assert.Equal(t, "shoot", reg.Actions[1].Name)
}

func TestRegisterActionsSanitizesSchemas(t *testing.T) {
	cli, transport, _ := newTestClient(t)
	require.NoError(t, cli.RegisterAll(context.Background()))

	require.Len(t, transport.raw, 1)
	text := string(transport.raw[0])
	// Action descriptions stay; schema-level metadata is stripped.
	assert.Contains(t, text, "Move to a grid position.")
	assert.NotContains(t, text, "Column to move to")
	assert.NotContains(t, text, "$schema")
}

func TestRegisterAllLeavesActionSetUntouched(t *testing.T) {
	set, err := actionset.NewSet(
		actionset.Define[movePayload]("move", "Move to a grid position."),
	)
	require.NoError(t, err)
	transport := &fakeTransport{}
	cli := New("Test Game", set, &fakeHandler{}, transport)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cli.RegisterAll(context.Background()))
		}()
	}
	wg.Wait()

	// The set keeps the full reflected schema; only the wire copy is
	// stripped.
	schema := set.Definitions()[0].Schema
	require.NotNil(t, schema)
	assert.NotEmpty(t, schema.Version)
	prop, ok := schema.Properties.Get("x")
	require.True(t, ok)
	assert.Equal(t, "Column to move to", prop.Description)
}

func TestEveryOutboundFrameCarriesGameIdentity(t *testing.T) {
	cli, transport, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.Context(ctx, "something happened", false))
	require.NoError(t, cli.UnregisterActions(ctx, "move"))
	require.NoError(t, cli.ForceActions(ctx, ForceRequest{Query: "go", ActionNames: []string{"shoot"}}))
	require.NoError(t, cli.ShutdownReady(ctx))

	require.Len(t, transport.frames, 4)
	for _, frame := range transport.frames {
		assert.Equal(t, "Test Game", frame.Game, frame.Command)
	}
}

func TestHandleActionSuccess(t *testing.T) {
	cli, transport, handler := newTestClient(t)
	handler.message = "moved"

	data := `{"x":3,"y":4}`
	require.NoError(t, cli.HandleMessage(context.Background(), actionFrame(t, "id-1", "move", &data)))

	require.Len(t, handler.actions, 1)
	move := handler.actions[0].Payload.(*movePayload)
	assert.Equal(t, uint32(3), move.X)
	assert.Equal(t, uint32(4), move.Y)

	result := lastResult(t, transport)
	assert.Equal(t, "id-1", result.ID)
	assert.True(t, result.Success)
	assert.Equal(t, "moved", result.Message)
	assert.Len(t, transport.frames, 1)
}

func TestHandleActionFailureUsesErrorText(t *testing.T) {
	cli, transport, handler := newTestClient(t)
	handler.err = errors.New("off the board")

	require.NoError(t, cli.HandleMessage(context.Background(), actionFrame(t, "id-2", "shoot", nil)))

	result := lastResult(t, transport)
	assert.Equal(t, "id-2", result.ID)
	assert.False(t, result.Success)
	assert.Equal(t, "off the board", result.Message)
}

func TestHandleActionFailureKeepsExplicitMessage(t *testing.T) {
	cli, transport, handler := newTestClient(t)
	handler.message = "you cannot shoot while reloading"
	handler.err = errors.New("reloading")

	require.NoError(t, cli.HandleMessage(context.Background(), actionFrame(t, "id-3", "shoot", nil)))

	result := lastResult(t, transport)
	assert.False(t, result.Success)
	assert.Equal(t, "you cannot shoot while reloading", result.Message)
}

func TestHandleActionMalformedPayload(t *testing.T) {
	cli, transport, handler := newTestClient(t)

	data := `{"x": }`
	require.NoError(t, cli.HandleMessage(context.Background(), actionFrame(t, "id-4", "move", &data)))

	// The handler never sees an undecodable invocation, but the invocation
	// is still acknowledged exactly once.
	assert.Empty(t, handler.actions)
	require.Len(t, transport.frames, 1)
	result := lastResult(t, transport)
	assert.Equal(t, "id-4", result.ID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Failed to deserialize action data")
}

func TestHandleActionUnknownName(t *testing.T) {
	cli, transport, handler := newTestClient(t)

	require.NoError(t, cli.HandleMessage(context.Background(), actionFrame(t, "id-5", "teleport", nil)))

	assert.Empty(t, handler.actions)
	result := lastResult(t, transport)
	assert.Equal(t, "id-5", result.ID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "teleport")
}

func TestHandleMessageActionWithoutID(t *testing.T) {
	cli, transport, handler := newTestClient(t)

	// No id means no result can be correlated: the envelope is dropped,
	// nothing is acknowledged.
	err := cli.HandleMessage(context.Background(), []byte(`{"command":"action","data":{}}`))
	require.Error(t, err)
	assert.Empty(t, handler.actions)
	assert.Empty(t, transport.frames)
}

func TestHandleMessageUnparseableEnvelope(t *testing.T) {
	cli, transport, handler := newTestClient(t)

	err := cli.HandleMessage(context.Background(), []byte(`{"command":"nope"}`))
	require.Error(t, err)
	assert.Empty(t, handler.actions)
	assert.Empty(t, transport.frames)
}

func TestReregisterAllSignal(t *testing.T) {
	cli, transport, handler := newTestClient(t)

	require.NoError(t, cli.HandleMessage(context.Background(), []byte(`{"command":"actions/reregister_all"}`)))
	assert.Equal(t, 1, handler.reregistered)
	assert.Empty(t, transport.frames)
}

func TestShutdownSignals(t *testing.T) {
	cli, transport, handler := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, cli.HandleMessage(ctx, []byte(`{"command":"shutdown/graceful","data":{"wants_shutdown":true}}`)))
	require.NoError(t, cli.HandleMessage(ctx, []byte(`{"command":"shutdown/graceful","data":{"wants_shutdown":false}}`)))
	require.NoError(t, cli.HandleMessage(ctx, []byte(`{"command":"shutdown/immediate"}`)))

	assert.Equal(t, []bool{true, false}, handler.gracefulCalls)
	assert.Equal(t, 1, handler.immediateCalls)
	// Control signals never emit anything on their own.
	assert.Empty(t, transport.frames)
}

type minimalHandler struct{}

func (minimalHandler) HandleAction(context.Context, actionset.Decoded) (string, error) {
	return "", nil
}
func (minimalHandler) ReregisterActions(context.Context) {}

func TestShutdownSignalsWithoutShutdownHandler(t *testing.T) {
	set, err := actionset.NewSet(actionset.Define[shootPayload]("shoot", "Fire."))
	require.NoError(t, err)
	transport := &fakeTransport{}
	cli := New("Test Game", set, minimalHandler{}, transport)

	require.NoError(t, cli.HandleMessage(context.Background(), []byte(`{"command":"shutdown/immediate"}`)))
	assert.Empty(t, transport.frames)
}

func TestTransportErrorSurfaces(t *testing.T) {
	cli, transport, _ := newTestClient(t)
	transport.err = errors.New("connection reset")

	err := cli.Context(context.Background(), "hello", false)
	require.Error(t, err)
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.ErrCodeTransport, perr.Code)
	assert.ErrorContains(t, err, "context")
}
