// Command server runs the presenced presence and room-signaling service.
package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/presenced/internal/directory"
	"github.com/Tyrowin/presenced/internal/push"
	"github.com/Tyrowin/presenced/internal/router"
	"github.com/Tyrowin/presenced/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting presenced...")

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	dir := directory.New()
	hub := server.GetHub()

	vapid := push.VAPIDConfig{
		PublicKey:  config.Push.VAPIDPublicKey,
		PrivateKey: config.Push.VAPIDPrivateKey,
		Contact:    config.Push.Contact,
	}
	var sender push.Sender = push.NopSender{}
	if vapid.Configured() {
		sender = push.NewWebPushSender(vapid)
	}
	dispatcher := push.NewDispatcher(dir, sender)

	hub.SetHandler(router.New(dir, hub, dispatcher))

	server.StartHub()

	mux := server.SetupRoutes()
	httpServer := server.CreateServer(config.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, config.TLS)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received signal %s, shutting down...", sig)
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown did not complete cleanly: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown did not complete cleanly: %v", err)
	}
}
