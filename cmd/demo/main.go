// Command demo wires one Instance with an in-memory store and a
// console adapter that prints outbound sends to stdout, ingests two
// sample messages with a trivial echo agent attached for the second,
// makes one direct outbound call, and exits after two seconds or on
// interrupt. It exists to exercise C1-C11 together outside of tests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/agent"
	"github.com/agentjido/jido-messaging/internal/ingest"
	"github.com/agentjido/jido-messaging/internal/instance"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/registry"
	"github.com/agentjido/jido-messaging/internal/router"
	"github.com/agentjido/jido-messaging/internal/storage/memstore"
)

// consoleAdapter is a stub channel that prints every outbound send
// instead of talking to a real platform.
type consoleAdapter struct{}

func (consoleAdapter) ChannelType() string { return "console" }

func (consoleAdapter) TransformIncoming(raw map[string]any) (adapter.Incoming, error) {
	return adapter.Incoming{
		ExternalRoomID: raw["room"].(string),
		ExternalUserID: raw["user"].(string),
		Text:           raw["text"].(string),
	}, nil
}

func (consoleAdapter) SendMessage(ctx context.Context, externalRoom, text string, opts adapter.SendOpts) (adapter.SendResult, error) {
	fmt.Printf("[console -> %s] %s\n", externalRoom, text)
	return adapter.SendResult{MessageID: "console-" + externalRoom}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := jmconfig.Default("demo-instance")
	store := memstore.New()
	in := instance.New(cfg, store, instance.Options{CollisionPolicy: registry.PreferFirst, LogPretty: true})

	in.RegisterBridge(registry.Manifest{ID: "console-1", AdapterModule: "console"}, consoleAdapter{})

	if _, err := in.StartLifecycle("console-1", nil); err != nil {
		fmt.Fprintln(os.Stderr, "start_lifecycle:", err)
		os.Exit(1)
	}

	if err := in.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	res, err := in.IngestIncoming(ctx, "console-1", map[string]any{
		"room": "general", "user": "alice", "text": "hello from the demo",
	}, ingest.Opts{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "ingest_incoming:", err)
		os.Exit(1)
	}
	fmt.Printf("ingested message %s into room %s\n", res.Message.ID, res.Room.ID)

	if err := store.CreateRoomBinding(ctx, model.RoomBinding{
		ID:             "demo-binding",
		RoomID:         res.Room.ID,
		Channel:        "console",
		BridgeID:       "console-1",
		ExternalRoomID: "general",
		Direction:      model.DirectionBoth,
		Enabled:        true,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "create_room_binding:", err)
		os.Exit(1)
	}

	in.StartAgent(res.Room.ID, "echo", agent.Config{
		Name:    "echo",
		Trigger: agent.Trigger{Kind: agent.TriggerAll},
		Handler: func(ctx context.Context, msg model.Message, hctx agent.HandlerContext) agent.HandlerResult {
			return agent.HandlerResult{Kind: agent.ResultReply, Text: "echo: " + msg.Text()}
		},
	})

	if _, err := in.IngestIncoming(ctx, "console-1", map[string]any{
		"room": "general", "user": "alice", "text": "ping",
	}, ingest.Opts{}); err != nil {
		fmt.Fprintln(os.Stderr, "ingest_incoming:", err)
	}

	if _, err := in.RouteOutbound(ctx, res.Room.ID, "a direct outbound broadcast", router.RouteOpts{}); err != nil {
		fmt.Fprintln(os.Stderr, "route_outbound:", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}

	in.Stop()
}
