package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

type MessageType string

// Inbound (server -> client).
const (
	MsgMatchFound          MessageType = "match_found"
	MsgPartnerLeft         MessageType = "partner_left"
	MsgPartnerDisconnected MessageType = "partner_disconnected"
	MsgQueueJoined         MessageType = "queue_joined"
	MsgQueueLeft           MessageType = "queue_left"
	MsgMatchEnded          MessageType = "match_ended"
	MsgChatEnded           MessageType = "chat_ended"
	MsgBanned              MessageType = "banned"
	MsgError               MessageType = "error"
)

// Outbound (client -> server).
const (
	MsgJoinQueue  MessageType = "join_queue"
	MsgLeaveQueue MessageType = "leave_queue"
	MsgNextMatch  MessageType = "next_match"
	MsgEndChat    MessageType = "end_chat"
)

// Relayed in both directions.
const (
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgICECandidate MessageType = "ice_candidate"
)

// Message is the envelope carried by the signaling transport.
type Message struct {
	Type    MessageType     `json:"type"`
	RoomID  RoomID          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type MatchFoundPayload struct {
	RoomID      RoomID    `json:"room_id"`
	PartnerID   PartnerID `json:"partner_id"`
	PartnerName string    `json:"partner_name,omitempty"`
	Role        Role      `json:"role"`
}

type DescriptionPayload struct {
	Description webrtc.SessionDescription `json:"description"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PartnerLeftPayload struct {
	Reason string `json:"reason,omitempty"`
}

type PartnerDisconnectedPayload struct {
	Message    string `json:"message,omitempty"`
	AutoRejoin *bool  `json:"auto_rejoin,omitempty"`
}

type QueueJoinedPayload struct {
	Position int    `json:"position"`
	Message  string `json:"message,omitempty"`
}

type BannedPayload struct {
	Reason    string    `json:"reason"`
	Message   string    `json:"message,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds an envelope, marshalling payload when it is non-nil.
func NewMessage(t MessageType, room RoomID, payload interface{}) (Message, error) {
	msg := Message{Type: t, RoomID: room}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}
