package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const streamID = "fluxx-local"

// localTrack is a captured sample track. While disabled, samples are
// dropped so the partner sees a frozen frame or hears silence.
type localTrack struct {
	id      string
	kind    domain.TrackKind
	sample  *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	written atomic.Uint64

	stop chan struct{}
	once sync.Once
}

var _ ports.LocalTrack = (*localTrack)(nil)

func newLocalTrack(kind domain.TrackKind, mimeType string) (*localTrack, error) {
	id := fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8])
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}
	t := &localTrack{
		id:     id,
		kind:   kind,
		sample: sample,
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *localTrack) ID() string               { return t.id }
func (t *localTrack) Kind() domain.TrackKind   { return t.kind }
func (t *localTrack) Enabled() bool            { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *localTrack) Local() webrtc.TrackLocal { return t.sample }

func (t *localTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *localTrack) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// Samples returns how many samples reached the underlying track.
func (t *localTrack) Samples() uint64 {
	return t.written.Load()
}

func (t *localTrack) writeSample(s media.Sample) error {
	if !t.Enabled() || t.stopped() {
		return nil
	}
	if err := t.sample.WriteSample(s); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}
