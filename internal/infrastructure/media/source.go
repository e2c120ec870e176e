package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"fluxx/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusClockRate     = 48000
)

// Opus TOC for a 20ms CELT frame followed by an empty payload.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// sampleSource yields media samples in presentation order.
type sampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

// openDevice maps file errors onto the capture sentinels.
func openDevice(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, path)
	default:
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDeviceUnavailable, path, err)
	}
}

// ivfSource plays an IVF file in a loop.
type ivfSource struct {
	path     string
	file     *os.File
	reader   *ivfreader.IVFReader
	header   *ivfreader.IVFFileHeader
	fallback time.Duration
}

func newIVFSource(path string, fallback time.Duration) (*ivfSource, error) {
	s := &ivfSource{path: path, fallback: fallback}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ivfSource) open() error {
	f, err := openDevice(s.path)
	if err != nil {
		return err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s is not an IVF file: %w", domain.ErrDeviceUnavailable, s.path, err)
	}
	s.file, s.reader, s.header = f, reader, header
	return nil
}

func (s *ivfSource) mimeType() (string, error) {
	switch s.header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("%w: unsupported IVF codec %q", domain.ErrDeviceUnavailable, s.header.FourCC)
	}
}

func (s *ivfSource) frameDuration() time.Duration {
	if s.header.TimebaseDenominator == 0 || s.header.TimebaseNumerator == 0 {
		return s.fallback
	}
	return time.Duration(float64(time.Second) * float64(s.header.TimebaseNumerator) / float64(s.header.TimebaseDenominator))
}

func (s *ivfSource) Next() (media.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		_ = s.file.Close()
		if err := s.open(); err != nil {
			return media.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.frameDuration()}, nil
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}

// oggSource plays an Ogg/Opus file in a loop, one page per sample.
type oggSource struct {
	path        string
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func newOggSource(path string) (*oggSource, error) {
	s := &oggSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) open() error {
	f, err := openDevice(s.path)
	if err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s is not an Ogg file: %w", domain.ErrDeviceUnavailable, s.path, err)
	}
	s.file, s.reader, s.lastGranule = f, reader, 0
	return nil
}

func (s *oggSource) Next() (media.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if errors.Is(err, io.EOF) {
		_ = s.file.Close()
		if err := s.open(); err != nil {
			return media.Sample{}, err
		}
		page, header, err = s.reader.ParseNextPage()
	}
	if err != nil {
		return media.Sample{}, err
	}

	duration := opusFrameDuration
	if header.GranulePosition > s.lastGranule {
		samples := header.GranulePosition - s.lastGranule
		duration = time.Duration(float64(samples) / opusClockRate * float64(time.Second))
	}
	s.lastGranule = header.GranulePosition
	return media.Sample{Data: page, Duration: duration}, nil
}

func (s *oggSource) Close() error {
	return s.file.Close()
}

// silenceSource stands in for a microphone when no audio device is configured.
type silenceSource struct{}

func (silenceSource) Next() (media.Sample, error) {
	return media.Sample{Data: opusSilence, Duration: opusFrameDuration}, nil
}

func (silenceSource) Close() error { return nil }
