package ports

import (
	"context"

	"fluxx/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type Constraints struct {
	VideoEnabled      bool
	AudioEnabled      bool
	PreferredDeviceID string
}

// LocalTrack is a captured track that can be attached to a peer connection.
type LocalTrack interface {
	domain.Track
	Enabled() bool
	SetEnabled(enabled bool)
	Local() webrtc.TrackLocal
}

// MediaCapture owns local capture. Tracks outlive sessions; only Release stops them.
type MediaCapture interface {
	Acquire(ctx context.Context, constraints Constraints) ([]LocalTrack, error)
	Release()
	SetTrackEnabled(kind domain.TrackKind, enabled bool)
	Tracks() []LocalTrack
}
