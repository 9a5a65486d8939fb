// Package push computes notification fan-out for room messages and delivers
// the payloads through a web-push client. Delivery is best effort: each
// recipient is attempted independently and failures are logged, never
// propagated back to the event that triggered them.
package push

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/Tyrowin/presenced/internal/directory"
	"github.com/Tyrowin/presenced/internal/protocol"
)

const defaultTitle = "THX"

// Sender delivers one serialized notification to one subscription.
type Sender interface {
	Send(sub *protocol.PushSubscription, payload []byte) error
}

// Notification is the payload shape consumed by browser service workers.
// Tag is set to the room id so repeated notifications for one room collapse
// client-side.
type Notification struct {
	Icon    string               `json:"icon"`
	Title   string               `json:"title"`
	Silent  bool                 `json:"silent"`
	Tag     string               `json:"tag"`
	Body    string               `json:"body"`
	Actions []NotificationAction `json:"actions"`
	Data    NotificationData     `json:"data"`
}

// NotificationAction is a button on the notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationData carries per-action click behavior.
type NotificationData struct {
	OnActionClick map[string]ClickAction `json:"onActionClick"`
}

// ClickAction describes what the service worker does when an action fires.
type ClickAction struct {
	Operation string `json:"operation"`
	URL       string `json:"url"`
}

type envelope struct {
	Notification Notification `json:"notification"`
}

// Dispatcher fans a room message out to the push subscriptions of the room's
// members, excluding the sender.
type Dispatcher struct {
	dir    *directory.Directory
	sender Sender
}

// NewDispatcher wires a Dispatcher to the directory and a delivery client.
func NewDispatcher(dir *directory.Directory, sender Sender) *Dispatcher {
	return &Dispatcher{dir: dir, sender: sender}
}

// Dispatch submits one notification per push-enabled room member, skipping
// the user owning senderConnID. When the sender cannot be resolved (a stale
// connection), nobody is excluded. Each delivery runs on its own goroutine
// and the call returns without waiting for any of them.
func (d *Dispatcher) Dispatch(opts protocol.AppOptions, roomID, senderConnID string) {
	sender, _ := d.dir.SessionByConnection(senderConnID)
	for _, member := range d.dir.UsersInRoom(opts.AppName, roomID) {
		if member.Push == nil {
			continue
		}
		if sender != nil && sender.User.ID == member.User.ID {
			continue
		}
		payload, err := json.Marshal(envelope{Notification: buildNotification(opts, roomID, sender)})
		if err != nil {
			log.Printf("Error building notification payload for room %s: %v", roomID, err)
			continue
		}
		sub := member.Push
		userID := member.User.ID
		go func() {
			if err := d.sender.Send(sub, payload); err != nil {
				log.Printf("Error sending push notification to user %s: %v", userID, err)
			}
		}()
	}
}

func buildNotification(opts protocol.AppOptions, roomID string, sender *directory.Session) Notification {
	title := opts.AppTitle
	if title == "" {
		title = defaultTitle
	}
	body := "New message"
	if sender != nil && sender.User.Nickname != "" {
		body = fmt.Sprintf("New message from %s", sender.User.Nickname)
	}
	goTo := ClickAction{
		Operation: "navigateLastFocusedOrOpen",
		URL:       fmt.Sprintf("/en-US/chat/%s", roomID),
	}
	return Notification{
		Icon:   opts.AppIcon,
		Title:  title,
		Silent: false,
		Tag:    roomID,
		Body:   body,
		Actions: []NotificationAction{
			{Action: "goto", Title: "View Chat"},
		},
		Data: NotificationData{
			OnActionClick: map[string]ClickAction{
				"default": goTo,
				"goto":    goTo,
			},
		},
	}
}
