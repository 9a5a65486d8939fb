package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/presenced/internal/protocol"
)

type recordingHandler struct {
	mu          sync.Mutex
	disconnects []string
}

func (r *recordingHandler) HandleConnect(connID string, opts protocol.AppOptions) {}

func (r *recordingHandler) HandleFrame(connID string, opts protocol.AppOptions, frame protocol.Frame) {
}

func (r *recordingHandler) HandleDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, connID)
}

func (r *recordingHandler) disconnectCount(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, id := range r.disconnects {
		if id == connID {
			count++
		}
	}
	return count
}

func addTestClient(h *Hub) *Client {
	client := NewClient(nil, h, "test-addr", protocol.AppOptions{AppName: "chatapp"})
	h.mutex.Lock()
	h.clients[client.id] = client
	h.mutex.Unlock()
	return client
}

func readFrame(t *testing.T, c *Client) protocol.Frame {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("Invalid frame on send channel: %v", err)
		}
		return frame
	default:
		t.Fatal("Expected a frame on the send channel")
		return protocol.Frame{}
	}
}

// TestHubGroupMembership tests join, leave, and size queries on named groups.
func TestHubGroupMembership(t *testing.T) {
	h := NewHub()
	a := addTestClient(h)
	b := addTestClient(h)

	h.Join(a.id, "r1")
	h.Join(b.id, "r1")
	if size := h.GroupSize("r1"); size != 2 {
		t.Errorf("Expected group size 2, got %d", size)
	}

	h.Leave(a.id, "r1")
	if size := h.GroupSize("r1"); size != 1 {
		t.Errorf("Expected group size 1 after leave, got %d", size)
	}

	// Unknown connections never join.
	h.Join("no-such-conn", "r1")
	if size := h.GroupSize("r1"); size != 1 {
		t.Errorf("Unknown connection changed group size to %d", size)
	}

	h.CloseGroup("r1")
	if size := h.GroupSize("r1"); size != 0 {
		t.Errorf("Expected empty group after close, got %d", size)
	}
}

// TestHubEmit tests unicast delivery and the liveness result.
func TestHubEmit(t *testing.T) {
	h := NewHub()
	a := addTestClient(h)

	if !h.Emit(a.id, protocol.EventMessage, protocol.MessagePayload{Message: "hi", RoomID: "r1"}) {
		t.Fatal("Emit to live connection reported failure")
	}
	frame := readFrame(t, a)
	if frame.Event != protocol.EventMessage {
		t.Errorf("Expected message frame, got %q", frame.Event)
	}

	if h.Emit("no-such-conn", protocol.EventMessage, nil) {
		t.Error("Emit to unknown connection reported success")
	}
}

// TestHubBroadcastExcept tests that group broadcasts skip the excluded
// connection and reach everyone else.
func TestHubBroadcastExcept(t *testing.T) {
	h := NewHub()
	a := addTestClient(h)
	b := addTestClient(h)
	c := addTestClient(h)
	for _, client := range []*Client{a, b, c} {
		h.Join(client.id, "r1")
	}

	h.BroadcastExcept("r1", a.id, protocol.EventUserJoinedRoom, protocol.UserJoinedRoomPayload{RoomID: "r1"})

	select {
	case <-a.send:
		t.Error("Excluded connection received the broadcast")
	default:
	}
	for _, client := range []*Client{b, c} {
		frame := readFrame(t, client)
		if frame.Event != protocol.EventUserJoinedRoom {
			t.Errorf("Expected user_joined_room frame, got %q", frame.Event)
		}
	}
}

// TestHubReply tests that ack replies carry the envelope and the original
// ack id.
func TestHubReply(t *testing.T) {
	h := NewHub()
	a := addTestClient(h)

	h.Reply(a.id, 42, protocol.OK("Room joined."))

	frame := readFrame(t, a)
	if frame.Event != protocol.EventAck || frame.Ack != 42 {
		t.Fatalf("Unexpected reply frame %+v", frame)
	}
	var resp protocol.Response
	if err := json.Unmarshal(frame.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Message != "Room joined." {
		t.Errorf("Envelope lost in transit: %+v", resp)
	}
}

// TestHubSlowConsumerEvictionDetachesSession tests that a client evicted for
// a full send buffer gets exactly one disconnect callback, so its session
// binding is released, and that the read pump's later unregister does not fire
// a second one.
func TestHubSlowConsumerEvictionDetachesSession(t *testing.T) {
	h := NewHub()
	rec := &recordingHandler{}
	h.SetHandler(rec)
	a := addTestClient(h)
	h.Join(a.id, "r1")

	for i := 0; i < cap(a.send); i++ {
		a.send <- []byte("{}")
	}

	h.Broadcast("r1", protocol.EventMessage, protocol.MessagePayload{Message: "hi", RoomID: "r1"})

	if got := rec.disconnectCount(a.id); got != 1 {
		t.Fatalf("Expected one disconnect callback after eviction, got %d", got)
	}
	if size := h.GroupSize("r1"); size != 0 {
		t.Errorf("Evicted client still counted in group, size %d", size)
	}

	// The dead connection's read pump eventually reports through unregister;
	// the hub must not repeat the callback for an already-evicted client.
	go h.Run()
	h.unregister <- a
	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}
	if got := rec.disconnectCount(a.id); got != 1 {
		t.Errorf("Expected no duplicate disconnect callback, got %d total", got)
	}
}

// TestHubUnregisterDropsGroups tests that an unregistered client disappears
// from every group it had joined.
func TestHubUnregisterDropsGroups(t *testing.T) {
	h := NewHub()
	a := addTestClient(h)
	h.Join(a.id, "r1")
	h.Join(a.id, "chatapp")

	h.mutex.Lock()
	delete(h.clients, a.id)
	h.dropFromGroups(a.id)
	h.mutex.Unlock()

	if h.GroupSize("r1") != 0 || h.GroupSize("chatapp") != 0 {
		t.Error("Unregistered client still counted in groups")
	}
}
