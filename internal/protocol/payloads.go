// Package protocol payload structs for individual events.
package protocol

// LoginPayload carries the user logging in to the namespace.
type LoginPayload struct {
	User User `json:"user"`
}

// LogoutPayload names the session to destroy.
type LogoutPayload struct {
	UserID string `json:"userId"`
}

// SubscribePushPayload registers a push subscription for a logged-in user.
type SubscribePushPayload struct {
	User User              `json:"user"`
	Push *PushSubscription `json:"push"`
}

// HasPushPayload queries a user's push subscription state.
type HasPushPayload struct {
	UserID string `json:"userId"`
}

// CreateRoomPayload carries the room to register.
type CreateRoomPayload struct {
	Room Room `json:"room"`
}

// CloseRoomPayload names the room to close and the requesting user.
type CloseRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomExistPayload queries room existence.
type RoomExistPayload struct {
	RoomID string `json:"roomId"`
}

// JoinRoomPayload carries the room to join and the joining user. A zero User
// falls back to the session bound to the joining connection.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	User   User   `json:"user"`
}

// LeaveRoomPayload carries the room to leave and the leaving user.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// HandshakePayload relays public-key material to the rest of a room. The
// server never inspects the key contents.
type HandshakePayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

// AcceptHandshakePayload answers a handshake toward one user.
type AcceptHandshakePayload struct {
	RoomID     string `json:"roomId"`
	ToUserID   string `json:"toUserId,omitempty"`
	FromUserID string `json:"fromUserId"`
	PublicKey  string `json:"publicKey"`
}

// SendMessagePayload carries a room message.
type SendMessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// SendPrivateMessagePayload carries a message addressed to one user.
type SendPrivateMessagePayload struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// UserJoinedRoomPayload is broadcast to a room when a user joins it.
type UserJoinedRoomPayload struct {
	User   User   `json:"user"`
	RoomID string `json:"roomId"`
}

// UserLeftRoomPayload is broadcast to a room when a user leaves it.
type UserLeftRoomPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// MessagePayload is the outbound shape of relayed messages.
type MessagePayload struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}
