package models

import (
	"encoding/json"
)

// SignalType represents the type of a signaling message
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeJoin         SignalType = "join"
	SignalTypeLeave        SignalType = "leave"
	SignalTypePing         SignalType = "ping"
	SignalTypePong         SignalType = "pong"
	SignalTypePeerJoined   SignalType = "peer-joined"
	SignalTypePeerLeft     SignalType = "peer-left"
	SignalTypeError        SignalType = "error"
)

// Relayable reports whether clients may send this type for the relay to forward.
func (t SignalType) Relayable() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate, SignalTypePing, SignalTypePong:
		return true
	}
	return false
}

// SignalMessage is the unit exchanged over the signaling socket.
// UserID is always the sender; PeerID, when set, is the single recipient.
type SignalMessage struct {
	Type   SignalType      `json:"type"`
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId"`
	PeerID string          `json:"peerId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalJSON accepts conversationId as an alias for roomId.
func (m *SignalMessage) UnmarshalJSON(b []byte) error {
	type plain SignalMessage
	var aux struct {
		plain
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = SignalMessage(aux.plain)
	if m.RoomID == "" {
		m.RoomID = aux.ConversationID
	}
	return nil
}

// NewSignal builds a message with Data marshalled from v. A nil v leaves Data empty.
func NewSignal(t SignalType, roomID, userID, peerID string, v any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, RoomID: roomID, UserID: userID, PeerID: peerID}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return SignalMessage{}, err
	}
	msg.Data = data
	return msg, nil
}

// DecodeData unmarshals the opaque payload into v.
func (m SignalMessage) DecodeData(v any) error {
	return json.Unmarshal(m.Data, v)
}

// JoinAck is the payload of the join acknowledgement sent to a newcomer.
type JoinAck struct {
	ConnectionID string   `json:"connectionId"`
	Participants []string `json:"participants"`
}
