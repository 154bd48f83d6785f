package session

import (
	"context"
	"log"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// promote rebuilds real playback on this tab from the last replicated
// snapshot and announces ownership. togglePlay resumes at the
// replicated position; next and previous start their target from zero.
// A failed resolution aborts the takeover and the tab stays a mirror.
func (m *Manager) promote(ctx context.Context, trigger string) error {
	m.mu.Lock()
	seed := m.snap.Clone()
	m.mu.Unlock()

	target := seed.CurrentTrack()
	posMs := int64(seed.PositionSeconds * 1000)
	if trigger == proto.ActionNext || trigger == proto.ActionPrevious {
		dir := 1
		if trigger == proto.ActionPrevious {
			dir = -1
		}
		next, ok := nextTrack(&seed, dir)
		if !ok {
			return nil
		}
		target = next
		posMs = 0
	}
	return m.becomeOwner(ctx, target, posMs)
}

// promoteWith is the takeover path for a play-now intent when the probe
// found no live owner: this tab starts the new track itself.
func (m *Manager) promoteWith(ctx context.Context, t proto.Track, queue []proto.Track) error {
	m.mu.Lock()
	m.snap.Queue = mergeQueue(m.snap.Queue, t, queue)
	m.mu.Unlock()
	return m.becomeOwner(ctx, t, 0)
}

// becomeOwner performs the promotion sequence: resolve and load the
// stream, restore volume and mute, seek, then play, and only then flip
// the role and broadcast MAIN_TAB_ACTIVE plus a state push so every
// mirror converges on the new owner at once.
func (m *Manager) becomeOwner(ctx context.Context, t proto.Track, posMs int64) error {
	src, err := m.res.Resolve(ctx, t)
	if err != nil {
		log.Printf("SESSION: takeover aborted, resolve %s: %v", t.ID, err)
		return err
	}
	if err := m.eng.Load(src); err != nil {
		log.Printf("SESSION: takeover aborted, load %s: %v", t.ID, err)
		return err
	}

	m.mu.Lock()
	vol, muted := m.snap.Volume, m.snap.IsMuted
	m.mu.Unlock()
	m.eng.SetVolume(vol)
	m.eng.SetMuted(muted)
	if posMs > 0 {
		m.eng.Seek(posMs)
	}

	m.mu.Lock()
	m.snap.SetTrack(t)
	if posMs > 0 {
		m.snap.PositionSeconds = float64(posMs) / 1000
	}
	m.snap.IsPlaying = true
	m.role = transition(m.role, eventPromoted)
	m.noOwner = false
	m.lastOwnerID = m.tabID
	m.mu.Unlock()

	m.eng.Play()
	if d := m.eng.DurationMillis(); d > 0 {
		m.mu.Lock()
		m.snap.DurationSeconds = float64(d) / 1000
		m.mu.Unlock()
	}

	log.Printf("SESSION: tab %s promoted to owner, resuming %s at %.1fs",
		m.tabID, t.ID, float64(posMs)/1000)
	m.publish(ctx, &proto.Msg{Type: proto.TypeMainActive})
	m.publishFull(ctx)
	m.publishQueue(ctx)
	m.publishProgress(ctx)
	m.notify()
	return nil
}
