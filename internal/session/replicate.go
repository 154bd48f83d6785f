package session

import (
	"context"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// publishProgress broadcasts the frequent progress message: track
// metadata, position, playing flag and the queue. Rare fields travel in
// the FULL update only.
func (m *Manager) publishProgress(ctx context.Context) {
	m.mu.Lock()
	s := m.snap.Clone()
	m.mu.Unlock()
	if !s.HasTrack() {
		return
	}
	msg := &proto.Msg{
		Type:        proto.TypeStateUpdate,
		SongID:      s.SongID,
		SongTitle:   s.SongTitle,
		SongArtist:  s.SongArtist,
		SongCover:   s.SongCover,
		CurrentTime: proto.Float(s.PositionSeconds),
		IsPlaying:   proto.Bool(s.IsPlaying),
		Queue:       s.Queue,
	}
	if s.DurationSeconds > 0 {
		msg.Duration = proto.Float(s.DurationSeconds)
	}
	m.publish(ctx, msg)
}

// publishFull broadcasts the rare settings this tab is authoritative
// for: repeat, shuffle, volume and mute.
func (m *Manager) publishFull(ctx context.Context) {
	m.mu.Lock()
	s := m.snap.Clone()
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{
		Type:       proto.TypeFullUpdate,
		RepeatMode: string(s.RepeatMode),
		IsShuffled: proto.Bool(s.IsShuffled),
		Volume:     proto.Float(s.Volume),
		IsMuted:    proto.Bool(s.IsMuted),
	})
}

func (m *Manager) publishQueue(ctx context.Context) {
	m.mu.Lock()
	s := m.snap.Clone()
	m.mu.Unlock()
	if len(s.Queue) == 0 {
		return
	}
	m.publish(ctx, &proto.Msg{
		Type:  proto.TypeQueueUpdate,
		Queue: s.Queue,
	})
}

// progressLoop ticks while this tab owns playback, refreshing position
// from the engine and rebroadcasting progress. The interval can be
// retuned live via SetProgressInterval.
func (m *Manager) progressLoop(ctx context.Context) {
	current := time.Duration(m.progressNs.Load())
	t := time.NewTicker(current)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if d := time.Duration(m.progressNs.Load()); d != current {
			current = d
			t.Reset(d)
		}
		if !m.isOwner() {
			continue
		}
		m.refreshFromEngine()
		m.publishProgress(ctx)
	}
}

func (m *Manager) refreshFromEngine() {
	pos := float64(m.eng.PositionMillis()) / 1000
	dur := float64(m.eng.DurationMillis()) / 1000
	m.mu.Lock()
	if pos >= 0 {
		m.snap.PositionSeconds = pos
	}
	if dur > 0 {
		m.snap.DurationSeconds = dur
	}
	m.mu.Unlock()
}

// requestStateLoop asks the current owner for a state push until either
// foreign state lands or the attempt budget runs out. The first request
// goes out immediately.
func (m *Manager) requestStateLoop(ctx context.Context) {
	t := time.NewTicker(m.opts.RequestStateInterval)
	defer t.Stop()
	for attempt := 0; attempt < m.opts.RequestStateAttempts; attempt++ {
		m.mu.Lock()
		done := m.gotState || m.role == RoleOwner
		m.mu.Unlock()
		if done {
			return
		}
		m.publish(ctx, &proto.Msg{Type: proto.TypeRequestState})
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
