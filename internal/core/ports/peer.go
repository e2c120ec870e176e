package ports

import (
	"fluxx/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the slice of a WebRTC peer connection the negotiation
// engine drives. Implementations must not invoke the event callback
// synchronously from within these methods.
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerConnectionFactory allocates a fresh peer connection whose callbacks
// are reported through emit.
type PeerConnectionFactory interface {
	NewPeerConnection(emit func(PeerEvent)) (PeerConnection, error)
}

type PeerEventKind int

const (
	PeerEventICECandidate PeerEventKind = iota
	PeerEventTrack
	PeerEventICEConnectionState
	PeerEventConnectionState
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerEventICECandidate:
		return "ice_candidate"
	case PeerEventTrack:
		return "track"
	case PeerEventICEConnectionState:
		return "ice_connection_state"
	case PeerEventConnectionState:
		return "connection_state"
	default:
		return "unknown"
	}
}

// PeerEvent is one callback from the underlying peer connection.
type PeerEvent struct {
	Kind PeerEventKind

	// Candidate is nil when gathering completed.
	Candidate *webrtc.ICECandidateInit
	Track     domain.Track

	ICEState        webrtc.ICEConnectionState
	ConnectionState webrtc.PeerConnectionState
}
