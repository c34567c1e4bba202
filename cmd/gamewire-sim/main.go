// gamewire-sim is a reference controller for developing games against the
// action protocol. It accepts one game connection at a time, mirrors the
// registered actions, validates operator payloads against their schemas, and
// lets the operator (or a scripted rule set) invoke actions and observe the
// correlated results.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/strayfield/gamewire/internal/logging"
	"github.com/strayfield/gamewire/internal/simulator"
	"github.com/strayfield/gamewire/internal/transcript"
	"github.com/strayfield/gamewire/pkg/protocol"
	"github.com/strayfield/gamewire/pkg/ws"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	app := &app{
		logger:    logger,
		sim:       simulator.New(simulator.WithLogger(logger)),
		sessionID: uuid.NewString(),
	}

	if cfg.RecordPath != "" {
		store, err := transcript.Open("file:" + cfg.RecordPath)
		if err != nil {
			logger.Error("transcript store unavailable", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
		app.store = store
	}

	if cfg.ScriptPath != "" {
		data, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			logger.Error("script unreadable", slog.String("path", cfg.ScriptPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		script, err := simulator.ParseScript(data)
		if err != nil {
			logger.Error("script invalid", slog.String("path", cfg.ScriptPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		app.script = script
	}

	for _, expression := range cfg.Watch {
		watch, err := simulator.NewWatch(expression)
		if err != nil {
			logger.Error("watch filter invalid", slog.String("filter", expression), slog.String("error", err.Error()))
			os.Exit(1)
		}
		app.watches = append(app.watches, watch)
	}

	go app.repl(context.Background())

	upgrader := ws.Upgrader()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", slog.String("error", err.Error()))
			return
		}
		app.serve(r.Context(), ws.Wrap(raw, ws.WithLogger(logger)))
	})

	logger.Info("simulator listening", slog.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

type app struct {
	logger    *slog.Logger
	sim       *simulator.Simulator
	store     *transcript.Store
	sessionID string

	mu      sync.Mutex
	conn    *ws.Conn
	script  *simulator.Script
	watches []*simulator.Watch
}

// serve runs one game conversation to completion. A second connection while
// one is active is refused; the protocol pairs one host with one controller.
func (a *app) serve(ctx context.Context, conn *ws.Conn) {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		a.logger.Warn("refusing second game connection")
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		_ = conn.Close()
	}()

	a.logger.Info("game connected")
	err := conn.Listen(ctx, func(data []byte) error {
		return a.handleInbound(ctx, data)
	})
	if err != nil {
		a.logger.Warn("conversation ended", slog.String("error", err.Error()))
	} else {
		a.logger.Info("game disconnected")
	}
}

func (a *app) handleInbound(ctx context.Context, data []byte) error {
	cmd, err := protocol.ParseClientCommand(data)
	if err != nil {
		return err
	}
	ctx = logging.WithCommand(logging.WithGame(ctx, cmd.Game), cmd.Command)
	a.record(ctx, transcript.DirectionInbound, cmd.Command, data)

	a.sim.Apply(cmd)
	a.logger.InfoContext(ctx, "game command")

	a.mu.Lock()
	watches := a.watches
	script := a.script
	a.mu.Unlock()

	for _, watch := range watches {
		lines, werr := watch.Render(cmd)
		if werr != nil {
			a.logger.WarnContext(ctx, "watch failed", slog.String("filter", watch.Expression()), slog.String("error", werr.Error()))
			continue
		}
		for _, line := range lines {
			fmt.Println(line)
		}
	}

	if script != nil {
		reaction, serr := script.React(cmd)
		if serr != nil {
			a.logger.WarnContext(ctx, "script failed", slog.String("error", serr.Error()))
		} else if reaction != nil {
			a.sendAction(ctx, reaction.Action, reaction.Data)
		}
	}
	return nil
}

func (a *app) sendAction(ctx context.Context, name string, data *string) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		fmt.Println("no game connected")
		return
	}

	if err := a.sim.ValidatePayload(name, data); err != nil {
		// Sending anyway: exercising the game's failure paths is a
		// legitimate simulator use.
		fmt.Printf("warning: %s\n", err.Error())
	}

	cmd, err := a.sim.BuildAction(name, data)
	if err != nil {
		fmt.Println(err.Error())
		return
	}
	raw, err := cmd.Encode()
	if err != nil {
		a.logger.ErrorContext(ctx, "encode action", slog.String("error", err.Error()))
		return
	}
	if err := conn.Send(ctx, raw); err != nil {
		a.logger.ErrorContext(ctx, "send action", slog.String("error", err.Error()))
		return
	}
	a.record(ctx, transcript.DirectionOutbound, cmd.Command, raw)
}

func (a *app) record(ctx context.Context, direction, command string, raw []byte) {
	if a.store == nil {
		return
	}
	if err := a.store.BeginSession(ctx, a.sessionID, logging.Game(ctx)); err != nil {
		a.logger.WarnContext(ctx, "transcript session", slog.String("error", err.Error()))
		return
	}
	err := a.store.Append(ctx, transcript.Entry{
		SessionID: a.sessionID,
		Direction: direction,
		Command:   command,
		Raw:       string(raw),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "transcript append", slog.String("error", err.Error()))
	}
}

// repl reads operator commands from stdin.
func (a *app) repl(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(`commands: list | state | send <action> [payload] | watch <jq> | script <file> | quit`)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		switch fields[0] {
		case "list":
			for _, name := range a.sim.Selectable() {
				fmt.Println(name)
			}
		case "state":
			printSnapshot(a.sim.Snapshot())
		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <action> [payload]")
				continue
			}
			var data *string
			if len(fields) == 3 {
				data = &fields[2]
			}
			a.sendAction(ctx, fields[1], data)
		case "watch":
			if len(fields) < 2 {
				fmt.Println("usage: watch <jq filter>")
				continue
			}
			watch, err := simulator.NewWatch(strings.Join(fields[1:], " "))
			if err != nil {
				fmt.Println(err.Error())
				continue
			}
			a.mu.Lock()
			a.watches = append(a.watches, watch)
			a.mu.Unlock()
		case "script":
			if len(fields) != 2 {
				fmt.Println("usage: script <file>")
				continue
			}
			data, err := os.ReadFile(fields[1])
			if err != nil {
				fmt.Println(err.Error())
				continue
			}
			script, err := simulator.ParseScript(data)
			if err != nil {
				fmt.Println(err.Error())
				continue
			}
			a.mu.Lock()
			a.script = script
			a.mu.Unlock()
		case "quit":
			os.Exit(0)
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func printSnapshot(snap simulator.Snapshot) {
	if snap.AwaitingResult {
		fmt.Printf("force action awaiting reply: %s\n", snap.PendingQuery)
		if snap.PendingState != nil {
			fmt.Printf("force action state: %s\n", *snap.PendingState)
		}
	} else {
		fmt.Printf("current state: %q\n", snap.State)
	}
	if snap.ContextMessage != "" {
		if snap.ContextSilent {
			fmt.Printf("(this is secret, don't share it with chat!) current context: %s\n", snap.ContextMessage)
		} else {
			fmt.Println(snap.ContextMessage)
		}
	}
	if snap.LastMessage != "" {
		fmt.Printf("last message: %s\n", snap.LastMessage)
	}
	fmt.Printf("selectable: %s\n", strings.Join(snap.Selectable, ", "))
}
