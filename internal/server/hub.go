// Package server coordinates client registration, group membership, event
// fan-out, and connection cleanup for the presenced WebSocket transport via
// the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/presenced/internal/protocol"
)

// EventHandler receives connection lifecycle callbacks and inbound frames.
// The event router implements it; the hub never interprets frame contents.
type EventHandler interface {
	HandleConnect(connID string, opts protocol.AppOptions)
	HandleFrame(connID string, opts protocol.AppOptions, frame protocol.Frame)
	HandleDisconnect(connID string)
}

// Hub manages all WebSocket client connections, keyed by connection id, and
// the named groups (namespace and room channels) used to address many
// connections at once. It maintains client registration/unregistration and
// ensures thread-safe operations through mutex protection.
type Hub struct {
	clients    map[string]*Client
	groups     map[string]map[string]*Client
	handler    EventHandler
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once an
// EventHandler has been attached.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetHandler attaches the event handler. Must be called before Run.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client.id]
	if !exists || client.closed {
		return false
	}

	// Try to send the message (channel might be closed, so we need to recover from panic)
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as it
// runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

			if h.handler != nil {
				h.handler.HandleConnect(client.id, client.opts)
			}

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				h.dropFromGroups(client.id)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock
				close(client.send)
				log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)
				if h.handler != nil {
					h.handler.HandleDisconnect(client.id)
				}
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// dropFromGroups removes the connection from every group. Caller holds the
// write lock.
func (h *Hub) dropFromGroups(connID string) {
	for name, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
}

var hub = NewHub()

// GetHub returns the global hub instance for wiring and shutdown coordination.
func GetHub() *Hub {
	return hub
}

func marshalFrame(event string, ack uint64, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling %s payload: %v", event, err)
		return nil, false
	}
	frame, err := json.Marshal(protocol.Frame{Event: event, Ack: ack, Data: data})
	if err != nil {
		log.Printf("Error marshaling %s frame: %v", event, err)
		return nil, false
	}
	return frame, true
}

// Join adds the connection to a named group, creating the group on first use.
// Unknown connections are ignored.
func (h *Hub) Join(connID, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[connID] = client
}

// Leave removes the connection from a named group, dropping the group when it
// empties.
func (h *Hub) Leave(connID, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// CloseGroup removes every connection from the group at once.
func (h *Hub) CloseGroup(group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.groups, group)
}

// GroupSize returns the live member count of a group.
func (h *Hub) GroupSize(group string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.groups[group])
}

// Emit sends one event to one connection, reporting whether the connection
// was live.
func (h *Hub) Emit(connID, event string, payload any) bool {
	message, ok := marshalFrame(event, 0, payload)
	if !ok {
		return false
	}
	h.mutex.RLock()
	client, exists := h.clients[connID]
	h.mutex.RUnlock()
	if !exists {
		return false
	}
	return h.safeSend(client, message)
}

// Reply delivers an ack envelope for the frame identified by ack.
func (h *Hub) Reply(connID string, ack uint64, resp protocol.Response) {
	message, ok := marshalFrame(protocol.EventAck, ack, resp)
	if !ok {
		return
	}
	h.mutex.RLock()
	client, exists := h.clients[connID]
	h.mutex.RUnlock()
	if !exists {
		return
	}
	h.safeSend(client, message)
}

// Broadcast sends an event to every connection in the group.
func (h *Hub) Broadcast(group, event string, payload any) {
	h.broadcastToGroup(group, "", event, payload)
}

// BroadcastExcept sends an event to every connection in the group other than
// the excluded one.
func (h *Hub) BroadcastExcept(group, exceptConnID, event string, payload any) {
	h.broadcastToGroup(group, exceptConnID, event, payload)
}

func (h *Hub) broadcastToGroup(group, exceptConnID, event string, payload any) {
	message, ok := marshalFrame(event, 0, payload)
	if !ok {
		return
	}
	clients := h.groupSnapshot(group)

	var failed []*Client
	for _, client := range clients {
		if exceptConnID != "" && client.id == exceptConnID {
			continue
		}
		if !h.safeSend(client, message) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// groupSnapshot returns a thread-safe snapshot of a group's current clients.
func (h *Hub) groupSnapshot(group string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.groups[group]))
	for _, client := range h.groups[group] {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client.id]; exists {
			delete(h.clients, client.id)
			h.dropFromGroups(client.id)
			client.closed = true
			removed = append(removed, client)
			log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels and detach sessions after releasing the lock. Eviction
	// is the only disconnect these clients will get: the read pump's later
	// unregister finds them already gone and skips the callback.
	for _, client := range removed {
		close(client.send)
		if h.handler != nil {
			h.handler.HandleDisconnect(client.id)
		}
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	// Close all client connections
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
