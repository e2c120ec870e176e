package services

import (
	"sync"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/observable"

	"go.uber.org/zap"
)

// ControlSurface applies mute and camera toggles to whatever local capture
// currently exists. Toggles are local only and never reach the transport.
type ControlSurface struct {
	mu      sync.Mutex
	capture ports.MediaCapture
	state   *observable.Value[domain.ControlState]
	logger  *zap.SugaredLogger
}

func NewControlSurface(capture ports.MediaCapture, logger *zap.SugaredLogger) *ControlSurface {
	return &ControlSurface{
		capture: capture,
		state:   observable.NewValue(domain.DefaultControlState()),
		logger:  logger,
	}
}

// ToggleMute flips the audio state and returns the new muted flag.
func (cs *ControlSurface) ToggleMute() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	st := cs.state.Get()
	st.Muted = !st.Muted
	cs.capture.SetTrackEnabled(domain.TrackAudio, !st.Muted)
	cs.state.Set(st)

	cs.logger.Infow("Microphone toggled", "muted", st.Muted)
	return st.Muted
}

// ToggleCamera flips the video state and returns the new camera-on flag.
func (cs *ControlSurface) ToggleCamera() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	st := cs.state.Get()
	st.CameraOn = !st.CameraOn
	cs.capture.SetTrackEnabled(domain.TrackVideo, st.CameraOn)
	cs.state.Set(st)

	cs.logger.Infow("Camera toggled", "camera_on", st.CameraOn)
	return st.CameraOn
}

// Apply pushes the current state onto freshly acquired tracks.
func (cs *ControlSurface) Apply() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	st := cs.state.Get()
	cs.capture.SetTrackEnabled(domain.TrackAudio, !st.Muted)
	cs.capture.SetTrackEnabled(domain.TrackVideo, st.CameraOn)
}

func (cs *ControlSurface) State() *observable.Value[domain.ControlState] {
	return cs.state
}
