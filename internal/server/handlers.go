// Package server exposes HTTP handlers, including the WebSocket upgrade that
// resolves each connection's application namespace, and a health check.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presenced/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// resolveAppOptions extracts the application metadata from handshake query
// parameters. Preferred form is an "options" parameter holding a JSON
// AppOptions object; a bare "appName" parameter is the fallback. A connection
// with neither stays unscoped, which degrades fan-out but is not fatal.
func resolveAppOptions(r *http.Request) protocol.AppOptions {
	query := r.URL.Query()

	if raw := query.Get("options"); raw != "" {
		var opts protocol.AppOptions
		if err := json.Unmarshal([]byte(raw), &opts); err == nil && opts.AppName != "" {
			return opts
		}
		log.Printf("Cannot parse handshake options from %s; falling back to appName", r.RemoteAddr)
	}

	if appName := query.Get("appName"); appName != "" {
		return protocol.AppOptions{AppName: appName}
	}

	log.Printf("Connection from %s carries no application identifier; proceeding unscoped", r.RemoteAddr)
	return protocol.AppOptions{}
}

// WebSocketHandler handles WebSocket upgrade requests and manages client
// connections. It validates that the request uses the GET method, resolves
// the application namespace from the handshake metadata, upgrades the HTTP
// connection to WebSocket, and registers the new client with the hub.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	opts := resolveAppOptions(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, hub, r.RemoteAddr, opts)

	// Register the client with the hub; the hub will launch the pump goroutines.
	client.hub.register <- client
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "presenced server is running!")
}
