// Package integration exercises the full server stack over real WebSocket
// connections: upgrade with namespace resolution, the event protocol, room
// lifecycle broadcasts, and the ack reply envelope.
package integration

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presenced/internal/directory"
	"github.com/Tyrowin/presenced/internal/protocol"
	"github.com/Tyrowin/presenced/internal/push"
	"github.com/Tyrowin/presenced/internal/router"
	"github.com/Tyrowin/presenced/internal/server"
)

const testOrigin = "http://localhost:8080"

// The hub is a process-wide singleton, so it is wired and started once and
// shared by every test in this package.
var wireOnce sync.Once

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	server.SetConfig(&server.Config{AllowedOrigins: []string{"*"}})
	t.Cleanup(func() { server.SetConfig(nil) })

	wireOnce.Do(func() {
		dir := directory.New()
		hub := server.GetHub()
		hub.SetHandler(router.New(dir, hub, push.NewDispatcher(dir, push.NopSender{})))
		server.StartHub()
	})

	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

// wsClient wraps a WebSocket connection with frame send/receive helpers.
// Frames read while waiting for something else are stashed, since broadcasts
// triggered by a request arrive before its ack reply.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []protocol.Frame
	ack     uint64
}

func dial(t *testing.T, ts *httptest.Server, appName string) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?options=" +
		url.QueryEscape(`{"appName":"`+appName+`","appTitle":"Chat App"}`)
	header := map[string][]string{"Origin": {testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, ack uint64, payload any) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	frame := protocol.Frame{Event: event, Ack: ack, Data: data}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// request sends an event with a fresh ack id and waits for its reply.
func (c *wsClient) request(event string, payload any) protocol.Response {
	c.t.Helper()
	c.ack++
	ack := c.ack
	c.send(event, ack, payload)
	frame := c.waitFor(protocol.EventAck, func(f protocol.Frame) bool { return f.Ack == ack })
	var resp protocol.Response
	if err := json.Unmarshal(frame.Data, &resp); err != nil {
		c.t.Fatalf("Invalid reply envelope: %v", err)
	}
	return resp
}

// waitFor returns the next matching frame, checking stashed frames first and
// stashing any unrelated traffic read along the way.
func (c *wsClient) waitFor(event string, match func(protocol.Frame) bool) protocol.Frame {
	c.t.Helper()
	for i, frame := range c.pending {
		if frame.Event == event && (match == nil || match(frame)) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return frame
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("Failed to set read deadline: %v", err)
		}
		var frame protocol.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.t.Fatalf("Timed out waiting for %s: %v", event, err)
		}
		if frame.Event == event && (match == nil || match(frame)) {
			return frame
		}
		c.pending = append(c.pending, frame)
	}
}

// assertNoneStashed fails if a frame of the given event was received while
// waiting for other traffic. Callers run a request first so any stray frame
// sent earlier on this connection has already been read and stashed.
func (c *wsClient) assertNoneStashed(event string) {
	c.t.Helper()
	for _, frame := range c.pending {
		if frame.Event == event {
			c.t.Fatalf("Unexpected %s frame: %+v", event, frame)
		}
	}
}

func decodeRoom(t *testing.T, data any) protocol.Room {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	var room protocol.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		t.Fatalf("Reply data is not a room: %v", err)
	}
	return room
}

// TestRoomLifecycleScenario walks the full flow: login, public room creation
// with namespace broadcast, join with size recomputation, message relay
// without echo, the admin gate on closure, and closure fan-out.
func TestRoomLifecycleScenario(t *testing.T) {
	ts := startTestServer(t)

	ann := dial(t, ts, "chatapp")
	bob := dial(t, ts, "chatapp")

	if resp := ann.request(protocol.EventLogin, protocol.LoginPayload{User: protocol.User{ID: "u1", Nickname: "Ann"}}); !resp.Success {
		t.Fatalf("Login failed: %+v", resp)
	}
	if resp := bob.request(protocol.EventLogin, protocol.LoginPayload{User: protocol.User{ID: "u2", Nickname: "Bob"}}); !resp.Success {
		t.Fatalf("Login failed: %+v", resp)
	}

	// Ann creates a public room; Bob's connection hears about it.
	resp := ann.request(protocol.EventCreateRoom, protocol.CreateRoomPayload{
		Room: protocol.Room{ID: "r1", Name: "Lobby", Config: protocol.RoomConfig{Public: true}, Admin: "u1"},
	})
	if !resp.Success {
		t.Fatalf("create_room failed: %+v", resp)
	}
	if room := decodeRoom(t, resp.Data); room.ID != "r1" || room.Size != 1 {
		t.Errorf("Unexpected created room %+v", room)
	}
	created := bob.waitFor(protocol.EventRoomCreated, nil)
	var announced protocol.Room
	if err := json.Unmarshal(created.Data, &announced); err != nil || announced.ID != "r1" {
		t.Errorf("room_created payload wrong: %s", created.Data)
	}

	// Bob joins; size becomes 2 and the namespace sees the update.
	resp = bob.request(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "r1", User: protocol.User{ID: "u2", Nickname: "Bob"}})
	if !resp.Success {
		t.Fatalf("join_room failed: %+v", resp)
	}
	if room := decodeRoom(t, resp.Data); room.Size != 2 {
		t.Errorf("Expected room size 2 after join, got %d", room.Size)
	}
	ann.waitFor(protocol.EventUserJoinedRoom, nil)
	updated := ann.waitFor(protocol.EventPublicRoomUpdate, nil)
	var updatedRoom protocol.Room
	if err := json.Unmarshal(updated.Data, &updatedRoom); err != nil || updatedRoom.Size != 2 {
		t.Errorf("public_room_updated payload wrong: %s", updated.Data)
	}

	// Messages relay to the rest of the room, never back to the sender.
	ann.send(protocol.EventSendMessage, 0, protocol.SendMessagePayload{RoomID: "r1", Message: "hello"})
	msg := bob.waitFor(protocol.EventMessage, nil)
	var relayed protocol.MessagePayload
	if err := json.Unmarshal(msg.Data, &relayed); err != nil || relayed.Message != "hello" || relayed.RoomID != "r1" {
		t.Errorf("message payload wrong: %s", msg.Data)
	}
	// A sync request flushes any stray echo toward Ann before the check.
	if resp := ann.request(protocol.EventRoomExist, protocol.RoomExistPayload{RoomID: "r1"}); !resp.Success {
		t.Fatalf("room_exist failed: %+v", resp)
	}
	ann.assertNoneStashed(protocol.EventMessage)

	// Wrong admin cannot close the room.
	if resp := ann.request(protocol.EventCloseRoom, protocol.CloseRoomPayload{RoomID: "r1", UserID: "u2"}); resp.Success {
		t.Fatal("Non-admin close succeeded")
	}
	if resp := ann.request(protocol.EventRoomExist, protocol.RoomExistPayload{RoomID: "r1"}); !resp.Success {
		t.Fatal("Room vanished after rejected close")
	}

	// Admin close notifies the room and the namespace, then the room is gone.
	if resp := ann.request(protocol.EventCloseRoom, protocol.CloseRoomPayload{RoomID: "r1", UserID: "u1"}); !resp.Success {
		t.Fatalf("Admin close failed: %+v", resp)
	}
	ann.waitFor(protocol.EventRoomClosed, nil)
	bob.waitFor(protocol.EventRoomClosed, nil)
	ann.waitFor(protocol.EventPublicRoomClosed, nil)
	if resp := ann.request(protocol.EventRoomExist, protocol.RoomExistPayload{RoomID: "r1"}); resp.Success {
		t.Fatal("room_exist still true after close")
	}
}

// TestHandshakeAndPrivateMessage verifies the key-exchange relay and the
// private message unicast between two live connections.
func TestHandshakeAndPrivateMessage(t *testing.T) {
	ts := startTestServer(t)

	ann := dial(t, ts, "keyapp")
	bob := dial(t, ts, "keyapp")
	if resp := ann.request(protocol.EventLogin, protocol.LoginPayload{User: protocol.User{ID: "k1", Nickname: "Ann"}}); !resp.Success {
		t.Fatalf("Login failed: %+v", resp)
	}
	if resp := bob.request(protocol.EventLogin, protocol.LoginPayload{User: protocol.User{ID: "k2", Nickname: "Bob"}}); !resp.Success {
		t.Fatalf("Login failed: %+v", resp)
	}
	if resp := ann.request(protocol.EventCreateRoom, protocol.CreateRoomPayload{Room: protocol.Room{ID: "kr", Admin: "k1"}}); !resp.Success {
		t.Fatalf("create_room failed: %+v", resp)
	}
	if resp := bob.request(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "kr", User: protocol.User{ID: "k2"}}); !resp.Success {
		t.Fatalf("join_room failed: %+v", resp)
	}

	ann.send(protocol.EventHandshake, 0, protocol.HandshakePayload{RoomID: "kr", UserID: "k1", PublicKey: "pem-a"})
	shake := bob.waitFor(protocol.EventHandshake, nil)
	var hs protocol.HandshakePayload
	if err := json.Unmarshal(shake.Data, &hs); err != nil || hs.PublicKey != "pem-a" || hs.UserID != "k1" {
		t.Errorf("handshake payload wrong: %s", shake.Data)
	}

	bob.send(protocol.EventAcceptHandshake, 0, protocol.AcceptHandshakePayload{
		RoomID: "kr", ToUserID: "k1", FromUserID: "k2", PublicKey: "pem-b",
	})
	accept := ann.waitFor(protocol.EventAcceptHandshake, nil)
	var ac protocol.AcceptHandshakePayload
	if err := json.Unmarshal(accept.Data, &ac); err != nil || ac.PublicKey != "pem-b" || ac.FromUserID != "k2" {
		t.Errorf("accept_handshake payload wrong: %s", accept.Data)
	}

	bob.send(protocol.EventSendPrivateMessage, 0, protocol.SendPrivateMessagePayload{
		RoomID: "kr", UserID: "k1", Message: "secret",
	})
	private := ann.waitFor(protocol.EventMessage, nil)
	var pm protocol.MessagePayload
	if err := json.Unmarshal(private.Data, &pm); err != nil || pm.Message != "secret" {
		t.Errorf("private message payload wrong: %s", private.Data)
	}
	if resp := bob.request(protocol.EventRoomExist, protocol.RoomExistPayload{RoomID: "kr"}); !resp.Success {
		t.Fatalf("room_exist failed: %+v", resp)
	}
	bob.assertNoneStashed(protocol.EventMessage)
}

// TestHealthEndpoint verifies the plain HTTP health check on the same mux.
func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Errorf("Expected 200 from health endpoint, got %d", resp.StatusCode)
	}
}
