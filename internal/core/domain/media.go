package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is the minimal handle both local and remote tracks expose.
type Track interface {
	ID() string
	Kind() TrackKind
	Stop()
}

// TrackSet holds at most one track per kind.
type TrackSet struct {
	tracks map[TrackKind]Track
}

func NewTrackSet() *TrackSet {
	return &TrackSet{tracks: make(map[TrackKind]Track)}
}

// Put stores t under its kind and returns the track it replaced, if any.
func (s *TrackSet) Put(t Track) Track {
	prev := s.tracks[t.Kind()]
	s.tracks[t.Kind()] = t
	return prev
}

func (s *TrackSet) Get(kind TrackKind) (Track, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tracks[kind]
	return t, ok
}

func (s *TrackSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tracks)
}

// StopAll stops every track and empties the set.
func (s *TrackSet) StopAll() {
	if s == nil {
		return
	}
	for kind, t := range s.tracks {
		t.Stop()
		delete(s.tracks, kind)
	}
}

// Snapshot returns an immutable view suitable for observers.
func (s *TrackSet) Snapshot() TrackSnapshot {
	snap := TrackSnapshot{}
	if s == nil {
		return snap
	}
	if t, ok := s.tracks[TrackAudio]; ok {
		snap.AudioID = t.ID()
	}
	if t, ok := s.tracks[TrackVideo]; ok {
		snap.VideoID = t.ID()
	}
	return snap
}

// TrackSnapshot is what observers see of a TrackSet.
type TrackSnapshot struct {
	AudioID string
	VideoID string
}

func (s TrackSnapshot) Empty() bool {
	return s.AudioID == "" && s.VideoID == ""
}
