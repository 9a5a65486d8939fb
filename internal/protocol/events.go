// Package protocol defines the wire format exchanged with connected clients:
// event frames, the ack reply envelope, and the payload types for rooms,
// users, and push subscriptions.
package protocol

import "encoding/json"

// Inbound event names. The set is closed; frames carrying any other event
// name are rejected at the router boundary.
const (
	EventLogin              = "login"
	EventLogout             = "logout"
	EventSubscribePush      = "subscribe_push"
	EventHasPush            = "has_push"
	EventCreateRoom         = "create_room"
	EventCloseRoom          = "close_room"
	EventRoomExist          = "room_exist"
	EventJoinRoom           = "join_room"
	EventLeaveRoom          = "leave_room"
	EventGetAvailableRooms  = "get_available_rooms"
	EventHandshake          = "handshake"
	EventAcceptHandshake    = "accept_handshake"
	EventSendMessage        = "send_message"
	EventSendPrivateMessage = "send_private_message"
)

// Outbound event names.
const (
	EventAck              = "ack"
	EventRoomCreated      = "room_created"
	EventRoomClosed       = "room_closed"
	EventPublicRoomClosed = "public_room_closed"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
	EventPublicRoomUpdate = "public_room_updated"
	EventAvailableRooms   = "available_rooms"
	EventMessage          = "message"
)

// Frame is the envelope for every message on the wire. A nonzero Ack on an
// inbound frame requests a reply frame with event "ack" and the same Ack id.
type Frame struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response is the uniform reply envelope carried in ack frames.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Push    *bool  `json:"push,omitempty"`
}

// OK builds a success reply.
func OK(message string) Response {
	return Response{Success: true, Message: message}
}

// OKData builds a success reply carrying a payload.
func OKData(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// Fail builds a failure reply.
func Fail(message string) Response {
	return Response{Success: false, Message: message}
}

// User identifies a logged-in participant within a namespace.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// RoomConfig carries the client-supplied room settings. Timer is reserved for
// future auto-expiry and is never enforced by the server.
type RoomConfig struct {
	Public   bool     `json:"public"`
	Password *string  `json:"password,omitempty"`
	Timer    *float64 `json:"timer,omitempty"`
}

// Room is an ephemeral discussion room within a namespace. Size is a cached
// count of currently joined connections, recomputed from the transport's live
// group size on every join and leave.
type Room struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Config RoomConfig `json:"config"`
	Admin  string     `json:"admin"`
	Size   int        `json:"size"`
}

// PushSubscriptionKeys holds the client encryption keys of a subscription.
type PushSubscriptionKeys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}

// PushSubscription is the opaque delivery descriptor handed to the push
// client. The server passes it through without interpreting its fields.
type PushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime *float64             `json:"expirationTime"`
	Keys           PushSubscriptionKeys `json:"keys"`
}

// AppOptions is the handshake metadata identifying the client application.
// AppName selects the namespace; the rest feeds notification payloads.
type AppOptions struct {
	AppName  string `json:"appName"`
	AppTitle string `json:"appTitle,omitempty"`
	AppIcon  string `json:"appIcon,omitempty"`
}
