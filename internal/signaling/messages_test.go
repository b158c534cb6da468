package signaling

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessageJoinRoom(t *testing.T) {
	raw := []byte(`{"type":"join-room","data":{"id":"u1","username":"alice","roomId":"r1"}}`)
	env, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != TypeJoinRoom {
		t.Fatalf("got type %q", env.Type)
	}
}

func TestParseClientMessageSendPublicKeyFromOptional(t *testing.T) {
	cases := []string{
		`{"type":"send-public-key","data":{"roomId":"r1","publicKey":"BASE64KEY"}}`,
		`{"type":"send-public-key","data":{"roomId":"r1","from":"a","publicKey":"BASE64KEY"}}`,
	}
	for _, raw := range cases {
		env, err := ParseClientMessage([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if env.Type != TypeSendPublicKey {
			t.Fatalf("got type %q", env.Type)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	cases := []string{
		`{"type":"room-joined","data":{"id":"u1","username":"alice","roomId":"r1","isHost":true}}`,
		`{"type":"connected","data":null}`,
		`{"type":"bogus","data":{}}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseClientMessageRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"join-room","data":{"id":"","username":"alice","roomId":"r1"}}`,
		`{"type":"join-room","data":{"id":"u1","username":"alice"}}`,
		`{"type":"join-room","data":{"id":"u1","username":"alice","roomId":"r1","extra":1}}`,
		`{"type":"join-room","data":{"id":"u1","username":"alice","roomId":"r1"},"extra":1}`,
		`{"type":"join-room","data":{"id":"u1","username":"alice","roomId":"r1"}}{}`,
		`{"type":"peer-signal","data":{"roomId":"r1","from":"a","to":"b"}}`,
		`{"type":"send-public-key","data":{"roomId":"r1","from":"a"}}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseClientMessagePreservesSignalBytes(t *testing.T) {
	signal := `{"sdp":"v=0...","type":"offer","nested":{"a":[1,2,3]}}`
	raw := []byte(`{"type":"peer-signal","data":{"signal":` + signal + `,"roomId":"r1","from":"a","to":"b"}}`)

	env, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var data PeerSignalData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if string(data.Signal) != signal {
		t.Fatalf("signal bytes changed: %s", data.Signal)
	}
}

func TestErrorMessageShape(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(errorMessage(ErrRoomFull), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeError {
		t.Fatalf("got type %q", env.Type)
	}
	var data ErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Message != ErrRoomFull {
		t.Fatalf("got code %q", data.Message)
	}
}

func TestRepublishKeepsDataVerbatim(t *testing.T) {
	data := json.RawMessage(`{"roomId":"r1","from":"a","publicKey":"AAAA"}`)
	out := republish(TypePublicKeyReceived, data)

	var env Envelope
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypePublicKeyReceived {
		t.Fatalf("got type %q", env.Type)
	}
	if string(env.Data) != string(data) {
		t.Fatalf("data changed: %s", env.Data)
	}
}
