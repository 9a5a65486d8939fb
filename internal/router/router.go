// Package router interprets inbound protocol events against the directory
// and decides which connections receive which outbound events. It owns the
// per-connection state machine (anonymous, identified, detached) and the room
// lifecycle rules layered on top of the directory.
package router

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/Tyrowin/presenced/internal/directory"
	"github.com/Tyrowin/presenced/internal/protocol"
)

// Transport is the bidirectional pub/sub layer the router addresses
// connections through. Groups are named channels: one per namespace and one
// per room.
type Transport interface {
	// Join adds the connection to a named group.
	Join(connID, group string)
	// Leave removes the connection from a named group.
	Leave(connID, group string)
	// CloseGroup removes every connection from the group.
	CloseGroup(group string)
	// GroupSize returns the live member count of a group.
	GroupSize(group string) int
	// Emit sends one event to one connection, reporting whether the
	// connection was live.
	Emit(connID, event string, payload any) bool
	// Broadcast sends an event to every connection in the group.
	Broadcast(group, event string, payload any)
	// BroadcastExcept sends an event to every connection in the group other
	// than the excluded one.
	BroadcastExcept(group, exceptConnID, event string, payload any)
	// Reply delivers an ack envelope for the frame identified by ack.
	Reply(connID string, ack uint64, resp protocol.Response)
}

// Notifier fans push notifications out to a room's members.
type Notifier interface {
	Dispatch(opts protocol.AppOptions, roomID, senderConnID string)
}

// Errors surfaced by room lifecycle operations and mapped onto reply
// envelopes at the event boundary.
var (
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrNotAuthorized = errors.New("not authorized")
)

// Router routes inbound events to directory mutations and outbound fan-out.
type Router struct {
	dir       *directory.Directory
	transport Transport
	notifier  Notifier
}

// New wires a Router to its collaborators.
func New(dir *directory.Directory, transport Transport, notifier Notifier) *Router {
	return &Router{dir: dir, transport: transport, notifier: notifier}
}

// HandleConnect scopes a fresh connection to its application namespace by
// joining the namespace-wide group. Connections without a resolved namespace
// stay unscoped and can still exchange frames.
func (r *Router) HandleConnect(connID string, opts protocol.AppOptions) {
	if opts.AppName != "" {
		r.transport.Join(connID, opts.AppName)
	}
}

// HandleDisconnect detaches the session bound to the connection. The session
// itself survives so a reconnect under the same user id resumes its rooms and
// push subscription.
func (r *Router) HandleDisconnect(connID string) {
	r.dir.UnbindConnection(connID)
}

// HandleFrame processes one inbound event to completion, including any
// broadcasts it triggers. Push dispatch is detached and never awaited.
func (r *Router) HandleFrame(connID string, opts protocol.AppOptions, frame protocol.Frame) {
	ns := opts.AppName
	switch frame.Event {
	case protocol.EventLogin:
		r.handleLogin(connID, ns, frame)
	case protocol.EventLogout:
		r.handleLogout(connID, ns, frame)
	case protocol.EventSubscribePush:
		r.handleSubscribePush(connID, ns, frame)
	case protocol.EventHasPush:
		r.handleHasPush(connID, ns, frame)
	case protocol.EventCreateRoom:
		r.handleCreateRoom(connID, ns, frame)
	case protocol.EventCloseRoom:
		r.handleCloseRoom(connID, ns, frame)
	case protocol.EventRoomExist:
		r.handleRoomExist(connID, ns, frame)
	case protocol.EventJoinRoom:
		r.handleJoinRoom(connID, ns, frame)
	case protocol.EventLeaveRoom:
		r.handleLeaveRoom(connID, ns, frame)
	case protocol.EventGetAvailableRooms:
		r.handleGetAvailableRooms(connID, ns, frame)
	case protocol.EventHandshake:
		r.handleHandshake(connID, ns, frame)
	case protocol.EventAcceptHandshake:
		r.handleAcceptHandshake(connID, ns, frame)
	case protocol.EventSendMessage:
		r.handleSendMessage(connID, opts, frame)
	case protocol.EventSendPrivateMessage:
		r.handleSendPrivateMessage(connID, ns, frame)
	default:
		log.Printf("Dropping frame with unknown event %q from connection %s", frame.Event, connID)
	}
}

// reply delivers the envelope when the frame requested an ack and is a no-op
// otherwise, so handlers can report failures unconditionally.
func (r *Router) reply(connID string, frame protocol.Frame, resp protocol.Response) {
	if frame.Ack == 0 {
		return
	}
	r.transport.Reply(connID, frame.Ack, resp)
}

func (r *Router) decode(connID string, frame protocol.Frame, v any) bool {
	if err := json.Unmarshal(frame.Data, v); err != nil {
		log.Printf("Malformed %s payload from connection %s: %v", frame.Event, connID, err)
		r.reply(connID, frame, protocol.Fail("Malformed payload."))
		return false
	}
	return true
}

func (r *Router) handleLogin(connID, ns string, frame protocol.Frame) {
	var p protocol.LoginPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	if p.User.ID == "" {
		r.reply(connID, frame, protocol.Fail("A user id is required to log in."))
		return
	}
	r.dir.BindConnection(ns, p.User, connID)
	r.reply(connID, frame, protocol.OK("Logged in."))
}

func (r *Router) handleLogout(connID, ns string, frame protocol.Frame) {
	var p protocol.LogoutPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	r.dir.DeleteUser(ns, p.UserID)
	r.reply(connID, frame, protocol.OK("Logged out."))
}

func (r *Router) handleSubscribePush(connID, ns string, frame protocol.Frame) {
	var p protocol.SubscribePushPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	if !r.dir.SetPush(ns, p.User.ID, p.Push) {
		r.reply(connID, frame, protocol.Fail("No user with id "+p.User.ID+" logged in."))
		return
	}
	r.reply(connID, frame, protocol.OK("Push subscription successfully set."))
}

func (r *Router) handleHasPush(connID, ns string, frame protocol.Frame) {
	var p protocol.HasPushPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	session := r.dir.GetUser(ns, p.UserID)
	if session == nil {
		r.reply(connID, frame, protocol.Fail("No user with id "+p.UserID+" logged in."))
		return
	}
	subscribed := session.Push != nil
	resp := protocol.OK("User has push subscribed.")
	if !subscribed {
		resp = protocol.OK("User has not push subscribed.")
	}
	resp.Push = &subscribed
	r.reply(connID, frame, resp)
}

func (r *Router) handleRoomExist(connID, ns string, frame protocol.Frame) {
	var p protocol.RoomExistPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	if r.dir.RoomExists(ns, p.RoomID) {
		r.reply(connID, frame, protocol.OK("You can join this room."))
		return
	}
	r.reply(connID, frame, protocol.Fail("Room does not exist."))
}

func (r *Router) handleGetAvailableRooms(connID, ns string, frame protocol.Frame) {
	rooms := r.ListPublicRooms(ns)
	r.transport.Emit(connID, protocol.EventAvailableRooms, rooms)
	r.reply(connID, frame, protocol.OKData("Available rooms.", rooms))
}

func (r *Router) handleHandshake(connID, ns string, frame protocol.Frame) {
	var p protocol.HandshakePayload
	if !r.decode(connID, frame, &p) {
		return
	}
	// Pure relay: key material is forwarded verbatim, never inspected.
	r.transport.BroadcastExcept(p.RoomID, connID, protocol.EventHandshake, p)
}

func (r *Router) handleAcceptHandshake(connID, ns string, frame protocol.Frame) {
	var p protocol.AcceptHandshakePayload
	if !r.decode(connID, frame, &p) {
		return
	}
	target := r.dir.GetUser(ns, p.ToUserID)
	if target == nil || target.ConnID == "" {
		// Target logged out or detached; drop silently.
		return
	}
	out := protocol.AcceptHandshakePayload{
		RoomID:     p.RoomID,
		FromUserID: p.FromUserID,
		PublicKey:  p.PublicKey,
	}
	r.transport.Emit(target.ConnID, protocol.EventAcceptHandshake, out)
}

func (r *Router) handleSendMessage(connID string, opts protocol.AppOptions, frame protocol.Frame) {
	var p protocol.SendMessagePayload
	if !r.decode(connID, frame, &p) {
		return
	}
	// Notification dispatch is detached and best effort; the room broadcast
	// below never waits on it.
	r.notifier.Dispatch(opts, p.RoomID, connID)
	r.transport.BroadcastExcept(p.RoomID, connID, protocol.EventMessage, protocol.MessagePayload{
		Message: p.Message,
		RoomID:  p.RoomID,
	})
}

func (r *Router) handleSendPrivateMessage(connID, ns string, frame protocol.Frame) {
	var p protocol.SendPrivateMessagePayload
	if !r.decode(connID, frame, &p) {
		return
	}
	target := r.dir.GetUser(ns, p.UserID)
	if target == nil || target.ConnID == "" {
		return
	}
	r.transport.Emit(target.ConnID, protocol.EventMessage, protocol.MessagePayload{
		Message: p.Message,
		RoomID:  p.RoomID,
	})
}
