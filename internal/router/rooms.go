// Package router room lifecycle: creation, membership, and admin-gated
// closure, layered on the directory and the transport's group primitive.
package router

import (
	"github.com/Tyrowin/presenced/internal/protocol"
)

// CreateRoom registers the room in the namespace, joins the creator's
// connection to the room group, records the membership on the creator's
// session when one is bound, and announces public rooms to the rest of the
// namespace. Returns the stored room.
func (r *Router) CreateRoom(ns string, room protocol.Room, creatorConnID string) protocol.Room {
	r.transport.Join(creatorConnID, room.ID)
	room.Size = r.transport.GroupSize(room.ID)
	stored := room
	r.dir.AddRoom(ns, &stored)
	if session, _ := r.dir.SessionByConnection(creatorConnID); session != nil {
		r.dir.AddRoomToUser(ns, room.ID, session.User.ID)
	}
	if room.Config.Public {
		r.transport.BroadcastExcept(ns, creatorConnID, protocol.EventRoomCreated, room)
	}
	return room
}

// CloseRoom destroys the room. Only the room's admin may close it; any other
// requester gets ErrNotAuthorized and no state changes. On success every
// session's membership is pruned, the room group is notified and emptied, the
// namespace hears about public closures, and the room leaves the directory.
func (r *Router) CloseRoom(ns, roomID, requesterUserID string) (protocol.Room, error) {
	room, ok := r.dir.RoomSnapshot(ns, roomID)
	if !ok {
		return protocol.Room{}, ErrRoomNotFound
	}
	if room.Admin != requesterUserID {
		return protocol.Room{}, ErrNotAuthorized
	}
	r.dir.RemoveRoomFromAll(ns, roomID)
	r.transport.Broadcast(roomID, protocol.EventRoomClosed, roomID)
	r.transport.CloseGroup(roomID)
	if room.Config.Public {
		r.transport.Broadcast(ns, protocol.EventPublicRoomClosed, roomID)
	}
	r.dir.DeleteRoom(ns, roomID)
	return room, nil
}

// JoinRoom adds the connection to the room group, records the membership,
// recomputes the cached size from the live group count, and fans the join out
// to the room and (for public rooms) the namespace.
func (r *Router) JoinRoom(ns, roomID string, user protocol.User, connID string) (protocol.Room, error) {
	if !r.dir.RoomExists(ns, roomID) {
		return protocol.Room{}, ErrRoomNotFound
	}
	if user.ID == "" {
		if session, _ := r.dir.SessionByConnection(connID); session != nil {
			user = session.User
		}
	}
	r.transport.Join(connID, roomID)
	r.dir.AddRoomToUser(ns, roomID, user.ID)
	r.dir.UpdateRoomSize(ns, roomID, r.transport.GroupSize(roomID))
	room, _ := r.dir.RoomSnapshot(ns, roomID)
	r.transport.BroadcastExcept(roomID, connID, protocol.EventUserJoinedRoom, protocol.UserJoinedRoomPayload{
		User:   user,
		RoomID: roomID,
	})
	if room.Config.Public {
		r.transport.Broadcast(ns, protocol.EventPublicRoomUpdate, room)
	}
	return room, nil
}

// LeaveRoom is the inverse of JoinRoom and a silent no-op when the room is
// absent.
func (r *Router) LeaveRoom(ns, roomID, userID, connID string) {
	if !r.dir.RoomExists(ns, roomID) {
		return
	}
	r.transport.Leave(connID, roomID)
	r.dir.RemoveRoomFromUser(ns, roomID, userID)
	r.dir.UpdateRoomSize(ns, roomID, r.transport.GroupSize(roomID))
	room, _ := r.dir.RoomSnapshot(ns, roomID)
	r.transport.BroadcastExcept(roomID, connID, protocol.EventUserLeftRoom, protocol.UserLeftRoomPayload{
		UserID: userID,
		RoomID: roomID,
	})
	if room.Config.Public {
		r.transport.Broadcast(ns, protocol.EventPublicRoomUpdate, room)
	}
}

// ListPublicRooms returns a snapshot of the namespace's public rooms. Never
// nil, so the wire always carries an array.
func (r *Router) ListPublicRooms(ns string) []protocol.Room {
	snapshot := r.dir.PublicRooms(ns)
	rooms := make([]protocol.Room, 0, len(snapshot))
	for _, room := range snapshot {
		rooms = append(rooms, *room)
	}
	return rooms
}

func (r *Router) handleCreateRoom(connID, ns string, frame protocol.Frame) {
	var p protocol.CreateRoomPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	room := r.CreateRoom(ns, p.Room, connID)
	r.reply(connID, frame, protocol.OKData("Room created.", room))
}

func (r *Router) handleCloseRoom(connID, ns string, frame protocol.Frame) {
	var p protocol.CloseRoomPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	room, err := r.CloseRoom(ns, p.RoomID, p.UserID)
	if err != nil {
		r.reply(connID, frame, protocol.Fail("You cannot close this room."))
		return
	}
	r.reply(connID, frame, protocol.OKData("Room closed.", room))
}

func (r *Router) handleJoinRoom(connID, ns string, frame protocol.Frame) {
	var p protocol.JoinRoomPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	room, err := r.JoinRoom(ns, p.RoomID, p.User, connID)
	if err != nil {
		r.reply(connID, frame, protocol.Fail("Room does not exist."))
		return
	}
	r.reply(connID, frame, protocol.OKData("Room joined.", room))
}

func (r *Router) handleLeaveRoom(connID, ns string, frame protocol.Frame) {
	var p protocol.LeaveRoomPayload
	if !r.decode(connID, frame, &p) {
		return
	}
	r.LeaveRoom(ns, p.RoomID, p.UserID, connID)
	r.reply(connID, frame, protocol.OK("Room left."))
}
