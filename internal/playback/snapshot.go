// Package playback holds the replicated playback session state and the
// field-level merge rules mirrors apply to incoming updates.
package playback

import "github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"

// RepeatMode controls what happens when the current track ends.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatOne RepeatMode = "one"
	RepeatAll RepeatMode = "all"
)

// Valid reports whether m is one of the three known modes.
func (m RepeatMode) Valid() bool {
	return m == RepeatOff || m == RepeatOne || m == RepeatAll
}

// Cycle returns the next mode in the UI cycling order: off → all → one → off.
func (m RepeatMode) Cycle() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// Snapshot is the authoritative description of what is currently playing.
// Exactly one tab (the owner) mutates it from engine ground truth; every
// other copy is derived and partially stale by field.
type Snapshot struct {
	SongID     string  `json:"songId,omitempty"`
	SongTitle  string  `json:"songTitle,omitempty"`
	SongArtist string  `json:"songArtist,omitempty"`
	SongCover  string  `json:"songCover,omitempty"`

	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	IsPlaying       bool    `json:"isPlaying"`

	Volume     float64    `json:"volume"`
	IsMuted    bool       `json:"isMuted"`
	RepeatMode RepeatMode `json:"repeatMode"`
	IsShuffled bool       `json:"isShuffled"`

	Queue []proto.Track `json:"queue,omitempty"`
}

// New returns a snapshot with the defaults of a fresh tab.
func New() Snapshot {
	return Snapshot{Volume: 1, RepeatMode: RepeatOff}
}

// HasTrack reports whether the snapshot describes a resolvable track.
func (s *Snapshot) HasTrack() bool { return s.SongID != "" }

// CurrentTrack rebuilds a track descriptor from the snapshot fields.
func (s *Snapshot) CurrentTrack() proto.Track {
	return proto.Track{
		ID:       s.SongID,
		Title:    s.SongTitle,
		Artist:   s.SongArtist,
		Cover:    s.SongCover,
		Duration: s.DurationSeconds,
	}
}

// QueueIndex returns the queue position of the current track, or -1.
func (s *Snapshot) QueueIndex() int {
	for i, t := range s.Queue {
		if t.ID == s.SongID {
			return i
		}
	}
	return -1
}

// SetTrack points the snapshot at t and resets position to the track start.
func (s *Snapshot) SetTrack(t proto.Track) {
	s.SongID = t.ID
	s.SongTitle = t.Title
	s.SongArtist = t.Artist
	s.SongCover = t.Cover
	s.PositionSeconds = 0
	if t.Duration > 0 {
		s.DurationSeconds = t.Duration
	}
}

// Clone returns a deep copy (the queue slice is not shared).
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.Queue != nil {
		cp.Queue = make([]proto.Track, len(s.Queue))
		copy(cp.Queue, s.Queue)
	}
	return cp
}
