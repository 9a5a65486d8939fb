// Package directory owns the in-memory, namespace-partitioned registry of
// rooms and user sessions, including the binding between logical users and
// live connection ids. It performs no I/O; the event router is its only
// mutator in production, but all operations are safe for concurrent callers.
package directory

import (
	"sync"

	"github.com/Tyrowin/presenced/internal/protocol"
)

// Session is the logical identity of a logged-in user, decoupled from any
// single live connection. ConnID is empty while the user is detached
// (disconnected but not logged out); Rooms tracks the rooms the user has
// joined and not yet left.
type Session struct {
	User   protocol.User
	ConnID string
	Rooms  map[string]struct{}
	Push   *protocol.PushSubscription
}

// InRoom reports whether the session has joined the given room.
func (s *Session) InRoom(roomID string) bool {
	_, ok := s.Rooms[roomID]
	return ok
}

type namespace struct {
	rooms    map[string]*protocol.Room
	sessions map[string]*Session
}

type connRef struct {
	ns     string
	userID string
}

// Directory maps application namespaces to their rooms and sessions. A
// reverse index from connection id to session avoids scanning on every
// inbound event. Namespaces are created implicitly on first use and live for
// the process lifetime.
type Directory struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	byConn     map[string]connRef
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		namespaces: make(map[string]*namespace),
		byConn:     make(map[string]connRef),
	}
}

func (d *Directory) ns(name string) *namespace {
	n, ok := d.namespaces[name]
	if !ok {
		n = &namespace{
			rooms:    make(map[string]*protocol.Room),
			sessions: make(map[string]*Session),
		}
		d.namespaces[name] = n
	}
	return n
}

// AddRoom inserts the room into the namespace's room map, overwriting
// silently on id collision. Unique id generation is the caller's problem.
func (d *Directory) AddRoom(ns string, room *protocol.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ns(ns).rooms[room.ID] = room
}

// GetRoom returns the room or nil.
func (d *Directory) GetRoom(ns, id string) *protocol.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return nil
	}
	return n.rooms[id]
}

// RoomExists reports whether the room id is registered in the namespace.
func (d *Directory) RoomExists(ns, id string) bool {
	return d.GetRoom(ns, id) != nil
}

// RoomSnapshot returns a copy of the room for broadcasting, so callers never
// hand out a pointer into the directory.
func (d *Directory) RoomSnapshot(ns, id string) (protocol.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return protocol.Room{}, false
	}
	room, ok := n.rooms[id]
	if !ok {
		return protocol.Room{}, false
	}
	return *room, true
}

// UpdateRoomSize overwrites the cached member count; no-op if the room is
// absent. The count always comes from the transport's live group size.
func (d *Directory) UpdateRoomSize(ns, id string, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.namespaces[ns]; ok {
		if room, ok := n.rooms[id]; ok {
			room.Size = size
		}
	}
}

// DeleteRoom removes the room from the namespace; no-op if absent.
func (d *Directory) DeleteRoom(ns, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.namespaces[ns]; ok {
		delete(n.rooms, id)
	}
}

// GetUser returns the session for the user id or nil.
func (d *Directory) GetUser(ns, id string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return nil
	}
	return n.sessions[id]
}

// DeleteUser destroys the session and its reverse-index entry; no-op if
// absent. Used by explicit logout only — disconnects keep the session.
func (d *Directory) DeleteUser(ns, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return
	}
	if s, ok := n.sessions[id]; ok {
		if s.ConnID != "" {
			delete(d.byConn, s.ConnID)
		}
		delete(n.sessions, id)
	}
}

// BindConnection binds the user to a live connection. An existing session is
// rebound (the reconnect path, preserving rooms and push subscription); a new
// session starts with no rooms and no push subscription. The reverse index is
// updated atomically with the binding.
func (d *Directory) BindConnection(ns string, user protocol.User, connID string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.ns(ns)
	s, ok := n.sessions[user.ID]
	if ok {
		if s.ConnID != "" {
			delete(d.byConn, s.ConnID)
		}
	} else {
		s = &Session{
			User:  user,
			Rooms: make(map[string]struct{}),
		}
		n.sessions[user.ID] = s
	}
	s.ConnID = connID
	d.byConn[connID] = connRef{ns: ns, userID: user.ID}
	return s
}

// UnbindConnection detaches whichever session owns the connection, keeping
// the session itself (rooms and push survive until logout or reconnect).
func (d *Directory) UnbindConnection(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)
	if n, ok := d.namespaces[ref.ns]; ok {
		if s, ok := n.sessions[ref.userID]; ok && s.ConnID == connID {
			s.ConnID = ""
		}
	}
}

// SessionByConnection resolves a live connection back to its owning session
// across all namespaces, returning the session and its namespace, or nil.
func (d *Directory) SessionByConnection(connID string) (*Session, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.byConn[connID]
	if !ok {
		return nil, ""
	}
	n, ok := d.namespaces[ref.ns]
	if !ok {
		return nil, ""
	}
	return n.sessions[ref.userID], ref.ns
}

// AddRoomToUser records the room in the user's membership set; no-op if the
// session is absent.
func (d *Directory) AddRoomToUser(ns, roomID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return
	}
	if s, ok := n.sessions[userID]; ok {
		s.Rooms[roomID] = struct{}{}
	}
}

// RemoveRoomFromUser drops the room from the user's membership set; no-op if
// the session is absent.
func (d *Directory) RemoveRoomFromUser(ns, roomID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return
	}
	if s, ok := n.sessions[userID]; ok {
		delete(s.Rooms, roomID)
	}
}

// RemoveRoomFromAll prunes the room from every session in the namespace.
// Called on room closure so no session keeps a dangling membership.
func (d *Directory) RemoveRoomFromAll(ns, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return
	}
	for _, s := range n.sessions {
		delete(s.Rooms, roomID)
	}
}

// UsersInRoom returns every session in the namespace whose membership set
// contains the room. Linear in the namespace's session count, which is fine
// at the cardinalities this server handles.
func (d *Directory) UsersInRoom(ns, roomID string) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return nil
	}
	var result []*Session
	for _, s := range n.sessions {
		if s.InRoom(roomID) {
			result = append(result, s)
		}
	}
	return result
}

// PublicRooms returns a snapshot of the namespace's public rooms.
func (d *Directory) PublicRooms(ns string) []*protocol.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return nil
	}
	rooms := make([]*protocol.Room, 0)
	for _, room := range n.rooms {
		if room.Config.Public {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// SetPush attaches a push subscription to the user's session, reporting
// whether the session existed.
func (d *Directory) SetPush(ns, userID string, push *protocol.PushSubscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[ns]
	if !ok {
		return false
	}
	s, ok := n.sessions[userID]
	if !ok {
		return false
	}
	s.Push = push
	return true
}
