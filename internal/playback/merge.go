package playback

import "github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"

// The merge is field-level, not message-level: progress ticks fire at high
// frequency while mode and volume changes fire rarely, so a stale progress
// tick racing a fresh mode toggle must never clobber the rare fields.
//
// Each Apply* returns true when any field actually changed.

// ApplyProgress merges a TypeStateUpdate. Metadata overwrites only when
// non-empty, position only when >= 0, duration only when > 0, isPlaying
// and queue only when present. Rare fields are never touched here.
func (s *Snapshot) ApplyProgress(m *proto.Msg) bool {
	changed := false
	if m.SongID != "" && m.SongID != s.SongID {
		s.SongID = m.SongID
		changed = true
	}
	if m.SongTitle != "" && m.SongTitle != s.SongTitle {
		s.SongTitle = m.SongTitle
		changed = true
	}
	if m.SongArtist != "" && m.SongArtist != s.SongArtist {
		s.SongArtist = m.SongArtist
		changed = true
	}
	if m.SongCover != "" && m.SongCover != s.SongCover {
		s.SongCover = m.SongCover
		changed = true
	}
	if m.CurrentTime != nil && *m.CurrentTime >= 0 && *m.CurrentTime != s.PositionSeconds {
		s.PositionSeconds = *m.CurrentTime
		changed = true
	}
	if m.Duration != nil && *m.Duration > 0 && *m.Duration != s.DurationSeconds {
		s.DurationSeconds = *m.Duration
		changed = true
	}
	if m.IsPlaying != nil && *m.IsPlaying != s.IsPlaying {
		s.IsPlaying = *m.IsPlaying
		changed = true
	}
	if len(m.Queue) > 0 {
		s.Queue = append(s.Queue[:0:0], m.Queue...)
		changed = true
	}
	return changed
}

// ApplyQueue merges a TypeQueueUpdate. Empty queues carry no information.
func (s *Snapshot) ApplyQueue(m *proto.Msg) bool {
	if len(m.Queue) == 0 {
		return false
	}
	s.Queue = append(s.Queue[:0:0], m.Queue...)
	return true
}

// ApplyFull merges a TypeFullUpdate: the only message permitted to
// overwrite repeatMode, isShuffled, volume and isMuted. The caller has
// already filtered self-tagged envelopes; envelopes without a tabId are
// accepted for compatibility with degraded senders.
func (s *Snapshot) ApplyFull(m *proto.Msg) bool {
	changed := false
	if mode := RepeatMode(m.RepeatMode); mode.Valid() && mode != s.RepeatMode {
		s.RepeatMode = mode
		changed = true
	}
	if m.IsShuffled != nil && *m.IsShuffled != s.IsShuffled {
		s.IsShuffled = *m.IsShuffled
		changed = true
	}
	if m.Volume != nil && *m.Volume != s.Volume {
		s.Volume = *m.Volume
		changed = true
	}
	if m.IsMuted != nil && *m.IsMuted != s.IsMuted {
		s.IsMuted = *m.IsMuted
		changed = true
	}
	return changed
}
