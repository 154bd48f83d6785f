package session

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/playback"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// Local intents. An owner applies them directly; a mirror relays them
// to the owner as PLAYER_CONTROL, taking over first when the no-owner
// latch is set and playable context exists. Settings intents also apply
// optimistically on the mirror so the local view reacts at once; the
// owner's next FULL update remains authoritative.

func (m *Manager) TogglePlay(ctx context.Context) error {
	return m.playIntent(ctx, proto.ActionTogglePlay)
}

func (m *Manager) Next(ctx context.Context) error {
	return m.playIntent(ctx, proto.ActionNext)
}

func (m *Manager) Previous(ctx context.Context) error {
	return m.playIntent(ctx, proto.ActionPrevious)
}

// playIntent routes a play-affecting command: owner applies, a mirror
// with a departed owner promotes itself, everyone else relays.
func (m *Manager) playIntent(ctx context.Context, action string) error {
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{Type: proto.TypeControl, Action: action})
		return nil
	}
	if m.takeoverNeeded() {
		return m.promote(ctx, action)
	}
	m.publish(ctx, &proto.Msg{Type: proto.TypeControl, Action: action})
	return nil
}

func (m *Manager) takeoverNeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noOwner && m.snap.HasTrack()
}

func (m *Manager) ToggleShuffle(ctx context.Context) {
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionToggleShuffle})
		return
	}
	m.mu.Lock()
	m.snap.IsShuffled = !m.snap.IsShuffled
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionToggleShuffle})
	m.notify()
}

func (m *Manager) CycleRepeatMode(ctx context.Context) {
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionCycleRepeatMode})
		return
	}
	m.mu.Lock()
	m.snap.RepeatMode = m.snap.RepeatMode.Cycle()
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionCycleRepeatMode})
	m.notify()
}

func (m *Manager) ToggleMute(ctx context.Context) {
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionToggleMute})
		return
	}
	m.mu.Lock()
	m.snap.IsMuted = !m.snap.IsMuted
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionToggleMute})
	m.notify()
}

func (m *Manager) SetVolume(ctx context.Context, v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{
			Type:   proto.TypeControl,
			Action: proto.ActionSetVolume,
			Volume: proto.Float(v),
		})
		return
	}
	m.mu.Lock()
	m.snap.Volume = v
	m.snap.IsMuted = v == 0
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{
		Type:   proto.TypeControl,
		Action: proto.ActionSetVolume,
		Volume: proto.Float(v),
	})
	m.notify()
}

// Seek positions playback at the given offset in seconds.
func (m *Manager) Seek(ctx context.Context, seconds float64) {
	if seconds < 0 {
		return
	}
	ms := seconds * 1000
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{
			Type:     proto.TypeControl,
			Action:   proto.ActionSeek,
			Position: proto.Float(ms),
		})
		return
	}
	m.mu.Lock()
	m.snap.PositionSeconds = seconds
	m.mu.Unlock()
	m.publish(ctx, &proto.Msg{
		Type:     proto.TypeControl,
		Action:   proto.ActionSeek,
		Position: proto.Float(ms),
	})
	m.notify()
}

// PlaySong jumps to a track already in the queue. With the no-owner
// latch set the tab takes over playing the requested entry from zero.
func (m *Manager) PlaySong(ctx context.Context, songID string) error {
	if songID == "" {
		return nil
	}
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{
			Type:   proto.TypeControl,
			Action: proto.ActionPlaySong,
			SongID: songID,
		})
		return nil
	}
	if m.takeoverNeeded() {
		target, ok := m.queueTrack(songID)
		if !ok {
			return fmt.Errorf("session: song %s not in queue", songID)
		}
		return m.becomeOwner(ctx, target, 0)
	}
	m.publish(ctx, &proto.Msg{
		Type:   proto.TypeControl,
		Action: proto.ActionPlaySong,
		SongID: songID,
	})
	return nil
}

// queueTrack looks up a queue entry by song id.
func (m *Manager) queueTrack(songID string) (proto.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.snap.Queue {
		if t.ID == songID {
			return t, true
		}
	}
	return proto.Track{}, false
}

func (m *Manager) RemoveFromQueue(ctx context.Context, songID string) {
	if songID == "" {
		return
	}
	if m.isOwner() {
		m.applyCommand(ctx, &proto.Msg{
			Type:   proto.TypeControl,
			Action: proto.ActionRemoveFromQueue,
			SongID: songID,
		})
		return
	}
	m.publish(ctx, &proto.Msg{
		Type:   proto.TypeControl,
		Action: proto.ActionRemoveFromQueue,
		SongID: songID,
	})
}

// PlayNow starts a new track, replacing the queue when one is given or
// moving the track to the end of the existing queue otherwise. A mirror
// probes for a live owner first and only plays locally when none
// answers.
func (m *Manager) PlayNow(ctx context.Context, t proto.Track, queue []proto.Track) error {
	if m.isOwner() || m.bus == nil {
		return m.ownerPlayNew(ctx, t, queue)
	}
	if m.ProbeOwner(ctx) {
		m.mu.Lock()
		m.snap.Queue = mergeQueue(m.snap.Queue, t, queue)
		q := append(m.snap.Queue[:0:0], m.snap.Queue...)
		m.mu.Unlock()
		m.publish(ctx, &proto.Msg{
			Type:   proto.TypeControl,
			Action: proto.ActionPlayNewSong,
			Song:   &t,
			Queue:  q,
		})
		m.notify()
		return nil
	}
	return m.promoteWith(ctx, t, queue)
}

// applyCommand executes a relayed or local command on the owning tab.
func (m *Manager) applyCommand(ctx context.Context, msg *proto.Msg) {
	switch msg.Action {
	case proto.ActionTogglePlay:
		m.ownerTogglePlay(ctx)
	case proto.ActionNext:
		m.ownerStep(ctx, 1)
	case proto.ActionPrevious:
		m.ownerStep(ctx, -1)
	case proto.ActionToggleShuffle:
		m.mu.Lock()
		m.snap.IsShuffled = !m.snap.IsShuffled
		m.mu.Unlock()
		m.publishFull(ctx)
		m.notify()
	case proto.ActionCycleRepeatMode:
		m.mu.Lock()
		m.snap.RepeatMode = m.snap.RepeatMode.Cycle()
		m.mu.Unlock()
		m.publishFull(ctx)
		m.notify()
	case proto.ActionSeek:
		if msg.Position != nil && *msg.Position >= 0 {
			m.ownerSeek(ctx, int64(*msg.Position))
		}
	case proto.ActionSetVolume:
		if msg.Volume != nil {
			m.ownerSetVolume(ctx, *msg.Volume)
		}
	case proto.ActionToggleMute:
		m.mu.Lock()
		m.snap.IsMuted = !m.snap.IsMuted
		muted := m.snap.IsMuted
		m.mu.Unlock()
		m.eng.SetMuted(muted)
		m.publishFull(ctx)
		m.notify()
	case proto.ActionPlaySong:
		if msg.SongID == "" {
			return
		}
		target, ok := m.queueTrack(msg.SongID)
		if !ok {
			log.Printf("SESSION: playSong %s not in queue", msg.SongID)
			return
		}
		if err := m.ownerStartTrack(ctx, target, 0); err != nil {
			log.Printf("SESSION: playSong %s: %v", msg.SongID, err)
		}
	case proto.ActionRemoveFromQueue:
		if msg.SongID == "" {
			return
		}
		m.mu.Lock()
		q := m.snap.Queue[:0:0]
		for _, t := range m.snap.Queue {
			if t.ID != msg.SongID {
				q = append(q, t)
			}
		}
		changed := len(q) != len(m.snap.Queue)
		m.snap.Queue = q
		m.mu.Unlock()
		if changed {
			m.publishQueue(ctx)
			m.notify()
		}
	case proto.ActionPlayNewSong:
		if msg.Song == nil {
			return
		}
		if err := m.ownerPlayNew(ctx, *msg.Song, msg.Queue); err != nil {
			log.Printf("SESSION: playNewSong %s: %v", msg.Song.ID, err)
		}
	}
}

func (m *Manager) ownerTogglePlay(ctx context.Context) {
	m.mu.Lock()
	m.snap.IsPlaying = !m.snap.IsPlaying
	playing := m.snap.IsPlaying
	m.mu.Unlock()
	if playing {
		m.eng.Play()
	} else {
		m.eng.Pause()
	}
	m.publishProgress(ctx)
	m.notify()
}

func (m *Manager) ownerSeek(ctx context.Context, ms int64) {
	m.eng.Seek(ms)
	m.mu.Lock()
	m.snap.PositionSeconds = float64(ms) / 1000
	m.mu.Unlock()
	m.publishProgress(ctx)
	m.notify()
}

func (m *Manager) ownerSetVolume(ctx context.Context, v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	m.eng.SetVolume(v)
	m.eng.SetMuted(v == 0)
	m.mu.Lock()
	m.snap.Volume = v
	m.snap.IsMuted = v == 0
	m.mu.Unlock()
	m.publishFull(ctx)
	m.notify()
}

// ownerStep advances to a neighbouring queue entry. Reaching the end
// without repeat-all stops playback instead of wrapping.
func (m *Manager) ownerStep(ctx context.Context, dir int) {
	m.mu.Lock()
	next, ok := nextTrack(&m.snap, dir)
	if !ok {
		stopped := m.snap.IsPlaying
		m.snap.IsPlaying = false
		m.mu.Unlock()
		if stopped {
			m.eng.Pause()
			m.publishProgress(ctx)
			m.notify()
		}
		return
	}
	m.mu.Unlock()
	if err := m.ownerStartTrack(ctx, next, 0); err != nil {
		log.Printf("SESSION: step to %s: %v", next.ID, err)
	}
}

// ownerStartTrack resolves, loads and plays one track, then broadcasts
// the result. Resolution failure leaves current playback untouched.
func (m *Manager) ownerStartTrack(ctx context.Context, t proto.Track, posMs int64) error {
	src, err := m.res.Resolve(ctx, t)
	if err != nil {
		return err
	}
	if err := m.eng.Load(src); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.SetTrack(t)
	if posMs > 0 {
		m.snap.PositionSeconds = float64(posMs) / 1000
	}
	m.snap.IsPlaying = true
	m.mu.Unlock()
	if posMs > 0 {
		m.eng.Seek(posMs)
	}
	m.eng.Play()
	if d := m.eng.DurationMillis(); d > 0 {
		m.mu.Lock()
		m.snap.DurationSeconds = float64(d) / 1000
		m.mu.Unlock()
	}
	m.publishProgress(ctx)
	m.notify()
	return nil
}

func (m *Manager) ownerPlayNew(ctx context.Context, t proto.Track, queue []proto.Track) error {
	m.mu.Lock()
	m.snap.Queue = mergeQueue(m.snap.Queue, t, queue)
	m.mu.Unlock()
	m.publishQueue(ctx)
	return m.ownerStartTrack(ctx, t, 0)
}

// mergeQueue either adopts the explicit replacement queue or moves the
// track to the end of the current one, appending it when absent.
func mergeQueue(cur []proto.Track, t proto.Track, replacement []proto.Track) []proto.Track {
	if len(replacement) > 0 {
		return append(replacement[:0:0], replacement...)
	}
	out := cur[:0:0]
	for _, q := range cur {
		if q.ID != t.ID {
			out = append(out, q)
		}
	}
	return append(out, t)
}

// nextTrack picks the step target from a snapshot's queue. Shuffle
// picks a random other entry; otherwise the neighbour, wrapping only
// under repeat-all.
func nextTrack(s *playback.Snapshot, dir int) (proto.Track, bool) {
	q := s.Queue
	if len(q) == 0 {
		return proto.Track{}, false
	}
	idx := s.QueueIndex()
	if s.IsShuffled && len(q) > 1 {
		n := rand.Intn(len(q))
		if n == idx {
			n = (n + 1) % len(q)
		}
		return q[n], true
	}
	next := idx + dir
	if next >= len(q) {
		if s.RepeatMode != playback.RepeatAll {
			return proto.Track{}, false
		}
		next = 0
	}
	if next < 0 {
		if s.RepeatMode != playback.RepeatAll {
			next = 0
		} else {
			next = len(q) - 1
		}
	}
	return q[next], true
}
