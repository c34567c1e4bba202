package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades, echoes n text frames back, then closes normally.
func echoServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	upgrader := Upgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < n; i++ {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendAndListenRoundTrip(t *testing.T) {
	srv := echoServer(t, 2)
	ctx := context.Background()

	conn, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, []byte(`{"command":"startup","game":"Test Game"}`)))
	require.NoError(t, conn.Send(ctx, []byte(`{"command":"context","data":{"message":"hi","silent":false},"game":"Test Game"}`)))

	var got []string
	err = conn.Listen(ctx, func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "startup")
	assert.Contains(t, got[1], "context")
}

func TestListenSurvivesCallbackErrors(t *testing.T) {
	srv := echoServer(t, 2)
	ctx := context.Background()

	conn, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, []byte("first")))
	require.NoError(t, conn.Send(ctx, []byte("second")))

	var got []string
	err = conn.Listen(ctx, func(data []byte) error {
		got = append(got, string(data))
		return assert.AnError
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestSendDeadlineDoesNotLinger(t *testing.T) {
	srv := echoServer(t, 2)

	conn, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, conn.Send(ctx, []byte("first")))

	// Once the earlier deadline has passed, a deadline-free send must
	// still work.
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, conn.Send(context.Background(), []byte("second")))
}

func TestListenStopsOnContextCancel(t *testing.T) {
	// A server that accepts and then stays silent.
	upgrader := Upgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		done <- conn.Listen(ctx, func([]byte) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not stop after cancel")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/nope")
	require.Error(t, err)
}
