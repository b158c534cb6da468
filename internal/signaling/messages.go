package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/beamdrop/beamdrop/internal/room"
)

// Type discriminates the wire message union. Every frame on the signaling
// socket is `{"type": ..., "data": ...}` with a fixed per-type data shape.
type Type string

const (
	TypeConnected         Type = "connected"
	TypeJoinRoom          Type = "join-room"
	TypeRoomJoined        Type = "room-joined"
	TypePeerJoined        Type = "peer-joined"
	TypePeerLeft          Type = "peer-left"
	TypePeerSignal        Type = "peer-signal"
	TypeSendPublicKey     Type = "send-public-key"
	TypePublicKeyReceived Type = "public-key-received"
	TypeError             Type = "error"
)

// ErrorCode is the stable set of error strings surfaced to clients.
type ErrorCode string

const (
	ErrInvalidMessageFormat ErrorCode = "INVALID_MESSAGE_FORMAT"
	ErrRoomNotFound         ErrorCode = "ROOM_NOT_FOUND"
	ErrAlreadyInRoom        ErrorCode = "ALREADY_IN_ROOM"
	ErrRoomFull             ErrorCode = "ROOM_FULL"
	ErrJoinFailed           ErrorCode = "JOIN_FAILED"
	ErrWebSocket            ErrorCode = "WEBSOCKET_ERROR"
	ErrForwardFailed        ErrorCode = "FORWARD_FAILED"
)

// Envelope is the outer frame. Data stays raw until the type is known;
// republished messages keep their data bytes untouched.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinRoomData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type RoomJoinedData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsHost   bool   `json:"isHost"`
}

type PeerJoinedData struct {
	RoomID   string `json:"roomId"`
	ID       string `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

type PeerLeftData struct {
	RoomID   string `json:"roomId"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PeerSignalData carries an opaque transport handshake blob. The relay never
// parses Signal; recipients self-filter by comparing To against their own id.
type PeerSignalData struct {
	Signal json.RawMessage `json:"signal"`
	RoomID string          `json:"roomId"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

// PublicKeyData is shared by send-public-key and public-key-received; the
// relay republishes the data bytes unchanged under the new type. From is
// optional: fan-out already excludes the announcing connection.
type PublicKeyData struct {
	RoomID    string `json:"roomId"`
	From      string `json:"from,omitempty"`
	PublicKey string `json:"publicKey"`
}

type ErrorData struct {
	Message ErrorCode `json:"message"`
}

// ParseClientMessage strictly decodes an inbound frame. Only the client-to-
// relay types are accepted; unknown types, unknown fields, missing required
// fields, and trailing data all fail closed.
func ParseClientMessage(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := validateClientData(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validateClientData(env Envelope) error {
	switch env.Type {
	case TypeJoinRoom:
		var data JoinRoomData
		if err := decodeStrict(env.Data, &data); err != nil {
			return err
		}
		if data.ID == "" || data.Username == "" || data.RoomID == "" {
			return fmt.Errorf("join-room message missing id/username/roomId")
		}
	case TypePeerSignal:
		var data PeerSignalData
		if err := decodeStrict(env.Data, &data); err != nil {
			return err
		}
		if len(data.Signal) == 0 || data.RoomID == "" || data.From == "" || data.To == "" {
			return fmt.Errorf("peer-signal message missing signal/roomId/from/to")
		}
	case TypeSendPublicKey:
		var data PublicKeyData
		if err := decodeStrict(env.Data, &data); err != nil {
			return err
		}
		if data.RoomID == "" || data.PublicKey == "" {
			return fmt.Errorf("send-public-key message missing roomId/publicKey")
		}
	default:
		return fmt.Errorf("unsupported client message type %q", env.Type)
	}
	return nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func marshalEnvelope(t Type, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		// All server-built payloads are plain structs; this cannot fail.
		panic(err)
	}
	out, err := json.Marshal(Envelope{Type: t, Data: raw})
	if err != nil {
		panic(err)
	}
	return out
}

func connectedMessage() []byte {
	return []byte(`{"type":"connected","data":null}`)
}

func errorMessage(code ErrorCode) []byte {
	return marshalEnvelope(TypeError, ErrorData{Message: code})
}

func roomJoinedMessage(u room.User, roomID string, isHost bool) []byte {
	return marshalEnvelope(TypeRoomJoined, RoomJoinedData{
		ID:       u.ID,
		Username: u.Username,
		RoomID:   roomID,
		IsHost:   isHost,
	})
}

func peerJoinedMessage(u room.User, roomID string, isHost bool) []byte {
	return marshalEnvelope(TypePeerJoined, PeerJoinedData{
		RoomID:   roomID,
		ID:       u.ID,
		Username: u.Username,
		IsHost:   isHost,
	})
}

func peerLeftMessage(roomID, id, username string) []byte {
	return marshalEnvelope(TypePeerLeft, PeerLeftData{
		RoomID:   roomID,
		ID:       id,
		Username: username,
	})
}

// republish swaps the envelope type while keeping the data bytes verbatim.
func republish(t Type, data json.RawMessage) []byte {
	out, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		panic(err)
	}
	return out
}
