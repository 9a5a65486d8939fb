package protocol

import (
	"encoding/json"
	"testing"
)

// TestFrameRoundTrip verifies the wire shape of an event frame, including
// ack omission when no reply is requested.
func TestFrameRoundTrip(t *testing.T) {
	data, err := json.Marshal(JoinRoomPayload{RoomID: "r1", User: User{ID: "u1", Nickname: "Ann"}})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal(Frame{Event: EventJoinRoom, Ack: 3, Data: data})
	if err != nil {
		t.Fatal(err)
	}

	var decoded Frame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Event != EventJoinRoom || decoded.Ack != 3 {
		t.Errorf("Frame fields lost: %+v", decoded)
	}

	var payload JoinRoomPayload
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.RoomID != "r1" || payload.User.Nickname != "Ann" {
		t.Errorf("Payload fields lost: %+v", payload)
	}

	raw, err = json.Marshal(Frame{Event: EventMessage})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"event":"message"}` {
		t.Errorf("Expected ack and data omitted, got %s", raw)
	}
}

// TestResponseEnvelope verifies the reply envelope builders and the optional
// push tri-state field.
func TestResponseEnvelope(t *testing.T) {
	ok := OKData("Room created.", Room{ID: "r1"})
	if !ok.Success || ok.Data == nil {
		t.Errorf("Unexpected envelope %+v", ok)
	}

	fail := Fail("Room does not exist.")
	raw, err := json.Marshal(fail)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"success":false,"message":"Room does not exist."}` {
		t.Errorf("Unexpected failure encoding %s", raw)
	}

	subscribed := true
	resp := OK("User has push subscribed.")
	resp.Push = &subscribed
	raw, err = json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Push == nil || !*decoded.Push {
		t.Errorf("Push tri-state lost: %+v", decoded)
	}
}

// TestRoomConfigOptionalFields verifies that absent password and timer fields
// stay absent through a round trip, since timer is reserved and unenforced.
func TestRoomConfigOptionalFields(t *testing.T) {
	var cfg RoomConfig
	if err := json.Unmarshal([]byte(`{"public":true}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Password != nil || cfg.Timer != nil {
		t.Errorf("Absent fields decoded as present: %+v", cfg)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"public":true}` {
		t.Errorf("Absent fields encoded: %s", raw)
	}
}
