package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/capstack/origination/common/bootstrap"
	"github.com/capstack/origination/common/server"
)

// Fanout pushes resume change events to connected viewers over WebSockets.
// It holds no state of its own: events come in over Redis pub/sub and go
// out to whichever sockets are watching the resume they belong to.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "fanout",
		bootstrap.WithoutDB(),
		bootstrap.WithoutBus(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize fanout: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger

	// Connection manager
	hub := NewHub(log)
	go hub.Run(ctx)

	// Subscribe before serving so a viewer can never connect to a fanout
	// that silently receives nothing.
	subscriber := NewRedisSubscriber(components.Redis, hub, log)
	if err := subscriber.Subscribe(ctx); err != nil {
		log.Error("failed to start redis subscriber", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}
	go subscriber.Listen(ctx)

	wsServer := NewServer(hub, components.Redis, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.HandleFunc("/api/stats", wsServer.HandleStats)
	mux.HandleFunc("/health", server.HealthHandler())

	srv := server.New("fanout", components.Config.Service.Port, mux, log)
	srv.OnShutdown(func(context.Context) {
		// Stops the hub loop and the subscriber; the hub closes every
		// client send channel on its way out.
		cancel()
	})

	if err := srv.Start(); err != nil {
		log.Error("fanout server stopped", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}
}
