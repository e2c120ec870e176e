package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Device is a configured capture source. An empty Path means a generated
// source: Opus silence for audio, no frames for video.
type Device struct {
	ID   string
	Kind domain.TrackKind
	Path string
}

type Config struct {
	Devices       []Device
	FrameInterval time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	out := Config{FrameInterval: cfg.Capture.FrameInterval}
	for _, d := range cfg.Capture.Devices {
		out.Devices = append(out.Devices, Device{
			ID:   d.ID,
			Kind: domain.TrackKind(d.Kind),
			Path: d.Path,
		})
	}
	return out
}

// Capture implements ports.MediaCapture over configured devices. Acquired
// tracks keep producing samples until Release.
type Capture struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	tracks []*localTrack
}

var _ ports.MediaCapture = (*Capture)(nil)

func NewCapture(cfg Config, logger *zap.SugaredLogger) *Capture {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = opusFrameDuration
	}
	return &Capture{cfg: cfg, logger: logger}
}

func (c *Capture) Acquire(ctx context.Context, constraints ports.Constraints) ([]ports.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tracks) > 0 {
		return c.snapshot(), nil
	}

	var kinds []domain.TrackKind
	if constraints.AudioEnabled {
		kinds = append(kinds, domain.TrackAudio)
	}
	if constraints.VideoEnabled {
		kinds = append(kinds, domain.TrackVideo)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no track kind requested", domain.ErrDeviceUnavailable)
	}

	if id := constraints.PreferredDeviceID; id != "" && !c.hasDevice(id) {
		return nil, fmt.Errorf("%w: unknown device %q", domain.ErrDeviceUnavailable, id)
	}

	type opened struct {
		track  *localTrack
		source sampleSource
	}
	var started []opened
	cleanup := func() {
		for _, o := range started {
			o.track.Stop()
			if o.source != nil {
				_ = o.source.Close()
			}
		}
	}

	for _, kind := range kinds {
		dev := c.selectDevice(kind, constraints.PreferredDeviceID)
		track, source, err := c.open(kind, dev)
		if err != nil {
			cleanup()
			return nil, err
		}
		started = append(started, opened{track: track, source: source})
	}

	for _, o := range started {
		c.tracks = append(c.tracks, o.track)
		if o.source != nil {
			go c.pump(o.track, o.source)
		}
	}

	c.logger.Infow("Capture acquired", "tracks", len(c.tracks))
	return c.snapshot(), nil
}

// Release stops every track. Calling it without tracks is a no-op.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tracks) == 0 {
		return
	}
	for _, t := range c.tracks {
		t.Stop()
	}
	c.tracks = nil
	c.logger.Info("Capture released")
}

func (c *Capture) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tracks {
		if t.kind == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (c *Capture) Tracks() []ports.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Capture) snapshot() []ports.LocalTrack {
	if len(c.tracks) == 0 {
		return nil
	}
	out := make([]ports.LocalTrack, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *Capture) hasDevice(id string) bool {
	for _, d := range c.cfg.Devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// selectDevice prefers the requested id, then the first device of kind.
// A nil result means the generated source.
func (c *Capture) selectDevice(kind domain.TrackKind, preferred string) *Device {
	var first *Device
	for i := range c.cfg.Devices {
		d := &c.cfg.Devices[i]
		if d.Kind != kind {
			continue
		}
		if d.ID == preferred {
			return d
		}
		if first == nil {
			first = d
		}
	}
	return first
}

func (c *Capture) open(kind domain.TrackKind, dev *Device) (*localTrack, sampleSource, error) {
	if dev == nil || dev.Path == "" {
		if kind == domain.TrackAudio {
			track, err := newLocalTrack(kind, webrtc.MimeTypeOpus)
			return track, silenceSource{}, err
		}
		track, err := newLocalTrack(kind, webrtc.MimeTypeVP8)
		return track, nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(dev.Path)); {
	case kind == domain.TrackVideo && ext == ".ivf":
		src, err := newIVFSource(dev.Path, c.cfg.FrameInterval)
		if err != nil {
			return nil, nil, err
		}
		mime, err := src.mimeType()
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		track, err := newLocalTrack(kind, mime)
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		return track, src, nil

	case kind == domain.TrackAudio && (ext == ".ogg" || ext == ".opus"):
		src, err := newOggSource(dev.Path)
		if err != nil {
			return nil, nil, err
		}
		track, err := newLocalTrack(kind, webrtc.MimeTypeOpus)
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		return track, src, nil

	default:
		return nil, nil, fmt.Errorf("%w: device %s: unsupported %s file %s", domain.ErrDeviceUnavailable, dev.ID, kind, dev.Path)
	}
}

// pump paces samples from src into track until the track is stopped.
func (c *Capture) pump(track *localTrack, src sampleSource) {
	defer src.Close()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-track.stop:
			return
		case <-timer.C:
		}

		sample, err := src.Next()
		if err != nil {
			c.logger.Warnw("Capture source ended", "track_id", track.id, "error", err)
			return
		}
		if err := track.writeSample(sample); err != nil {
			c.logger.Debugw("Failed to write sample", "track_id", track.id, "error", err)
		}

		wait := sample.Duration
		if wait <= 0 {
			wait = c.cfg.FrameInterval
		}
		timer.Reset(wait)
	}
}
