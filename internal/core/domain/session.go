package domain

import "time"

type SessionID string
type RoomID string
type PartnerID string

// Role is assigned by the matchmaking server in match_found.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// SignalingState is the negotiation engine's view of the offer/answer exchange.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// ConnectionState is the coarse connectivity exposed to observers.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

type QueueStatus string

const (
	QueueIdle         QueueStatus = "idle"
	QueueSearching    QueueStatus = "searching"
	QueueMatched      QueueStatus = "matched"
	QueueConnecting   QueueStatus = "connecting"
	QueueConnected    QueueStatus = "connected"
	QueueDisconnected QueueStatus = "disconnected"
	QueueFailed       QueueStatus = "failed"
)

// Match is what the matchmaker hands out for one pairing.
type Match struct {
	RoomID      RoomID
	PartnerID   PartnerID
	PartnerName string
	Role        Role
	MatchedAt   time.Time
}

// ControlState survives session replacement; tracks do not.
type ControlState struct {
	Muted    bool
	CameraOn bool
}

func DefaultControlState() ControlState {
	return ControlState{Muted: false, CameraOn: true}
}

// Ban is the last ban notification received from the matchmaker.
type Ban struct {
	Reason    string
	ExpiresAt time.Time
}

// Active reports whether the ban is still in force at now. A zero expiry is permanent.
func (b *Ban) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt.IsZero() || now.Before(b.ExpiresAt)
}
