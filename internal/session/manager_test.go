package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/bus"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/engine"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/resolver"
)

func testResolver() resolver.Resolver {
	return resolver.Func(func(_ context.Context, t proto.Track) (engine.Source, error) {
		return engine.Source{StreamURL: "stream://" + t.ID}, nil
	})
}

func newTab(t *testing.T, hub *bus.Hub, id string) (*Manager, *engine.Memory) {
	t.Helper()
	eng := engine.NewMemory()
	m := New(Options{
		TabID:                id,
		Bus:                  hub.Attach(),
		Engine:               eng,
		Resolver:             testResolver(),
		ProgressInterval:     25 * time.Millisecond,
		RequestStateAttempts: 2,
		RequestStateInterval: 30 * time.Millisecond,
		ProbeTimeout:         25 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { m.Close() })
	m.Run(ctx)
	return m, eng
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ghost injects raw protocol messages as if a foreign tab sent them.
func ghost(t *testing.T, hub *bus.Hub) func(*proto.Msg) {
	t.Helper()
	p := hub.Attach()
	t.Cleanup(func() { p.Close() })
	return func(m *proto.Msg) {
		m.TabID = "ghost"
		m.TS = proto.NowMillis()
		if err := p.Publish(context.Background(), m); err != nil {
			t.Fatalf("ghost publish: %v", err)
		}
	}
}

func TestPlayNowPromotesWhenAlone(t *testing.T) {
	hub := bus.NewHub()
	a, engA := newTab(t, hub, "tab-a")

	s1 := proto.Track{ID: "s1", Title: "First", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1, {ID: "s2"}}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}

	if a.Role() != RoleOwner {
		t.Fatalf("role = %v, want owner", a.Role())
	}
	if !engA.Playing() {
		t.Fatal("engine not playing after promotion")
	}
	if got := engA.Current().StreamURL; got != "stream://s1" {
		t.Fatalf("engine stream = %q", got)
	}
	snap := a.Snapshot()
	if snap.SongID != "s1" || !snap.IsPlaying || len(snap.Queue) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestOwnerStateReplicatesToMirror(t *testing.T) {
	hub := bus.NewHub()
	a, _ := newTab(t, hub, "tab-a")
	b, engB := newTab(t, hub, "tab-b")

	s1 := proto.Track{ID: "s1", Title: "First", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}

	waitFor(t, "mirror to converge", func() bool {
		s := b.Snapshot()
		return s.SongID == "s1" && s.IsPlaying
	})
	if b.Role() != RoleMirror {
		t.Fatalf("mirror role = %v", b.Role())
	}
	if b.LastOwnerID() != "tab-a" {
		t.Fatalf("lastOwnerID = %q", b.LastOwnerID())
	}
	// Mirrors replicate state only; the real engine stays idle.
	if engB.Playing() || engB.Loads() != 0 {
		t.Fatal("mirror engine touched")
	}

	a.Seek(context.Background(), 42)
	waitFor(t, "seek to replicate", func() bool {
		return b.Snapshot().PositionSeconds == 42
	})
}

func TestMirrorRelaysCommandsToOwner(t *testing.T) {
	hub := bus.NewHub()
	a, engA := newTab(t, hub, "tab-a")
	b, _ := newTab(t, hub, "tab-b")

	s1 := proto.Track{ID: "s1", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	waitFor(t, "mirror to converge", func() bool { return b.Snapshot().SongID == "s1" })

	if err := b.TogglePlay(context.Background()); err != nil {
		t.Fatalf("TogglePlay: %v", err)
	}
	waitFor(t, "owner to pause", func() bool { return !engA.Playing() })
	waitFor(t, "pause to replicate back", func() bool { return !b.Snapshot().IsPlaying })

	b.SetVolume(context.Background(), 0.4)
	waitFor(t, "volume on owner", func() bool { return engA.Volume() == 0.4 })
	waitFor(t, "volume full update", func() bool { return b.Snapshot().Volume == 0.4 })
}

func TestTakeoverResumesFromReplicatedSnapshot(t *testing.T) {
	hub := bus.NewHub()
	a, _ := newTab(t, hub, "tab-a")
	b, engB := newTab(t, hub, "tab-b")

	s1 := proto.Track{ID: "s1", Title: "First", Duration: 180}
	s2 := proto.Track{ID: "s2", Title: "Second", Duration: 200}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1, s2}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	a.Seek(context.Background(), 10)
	waitFor(t, "mirror to see position", func() bool {
		s := b.Snapshot()
		return s.SongID == "s1" && s.PositionSeconds == 10
	})

	// The owner closes and announces departure.
	a.Close()
	waitFor(t, "no-owner latch", func() bool { return b.NoOwner() })
	if b.Snapshot().IsPlaying {
		t.Fatal("playback flag not latched off after departure")
	}

	// A play command on the surviving tab triggers takeover, resuming
	// the same track near the replicated position.
	if err := b.TogglePlay(context.Background()); err != nil {
		t.Fatalf("TogglePlay: %v", err)
	}
	if b.Role() != RoleOwner {
		t.Fatalf("role = %v, want owner", b.Role())
	}
	if b.NoOwner() {
		t.Fatal("latch survived promotion")
	}
	if got := engB.Current().StreamURL; got != "stream://s1" {
		t.Fatalf("engine stream = %q", got)
	}
	if pos := engB.PositionMillis(); pos != 10000 {
		t.Fatalf("engine position = %dms, want 10000", pos)
	}
	if !engB.Playing() {
		t.Fatal("engine not playing after takeover")
	}
}

func TestTakeoverNextStartsTargetFromZero(t *testing.T) {
	hub := bus.NewHub()
	b, engB := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	send(&proto.Msg{
		Type:        proto.TypeStateUpdate,
		SongID:      "s1",
		SongTitle:   "First",
		CurrentTime: proto.Float(10),
		Duration:    proto.Float(180),
		IsPlaying:   proto.Bool(true),
		Queue:       []proto.Track{{ID: "s1"}, {ID: "s2", Duration: 200}},
	})
	waitFor(t, "replicated state", func() bool { return b.Snapshot().SongID == "s1" })
	send(&proto.Msg{Type: proto.TypeMainClosed})
	waitFor(t, "no-owner latch", func() bool { return b.NoOwner() })

	if err := b.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if b.Role() != RoleOwner {
		t.Fatalf("role = %v, want owner", b.Role())
	}
	snap := b.Snapshot()
	if snap.SongID != "s2" {
		t.Fatalf("song = %q, want s2", snap.SongID)
	}
	if snap.PositionSeconds != 0 || engB.PositionMillis() != 0 {
		t.Fatalf("next must start from zero, got %vs / %dms",
			snap.PositionSeconds, engB.PositionMillis())
	}
}

func TestTakeoverPlaySongStartsRequestedTrack(t *testing.T) {
	hub := bus.NewHub()
	b, engB := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	send(&proto.Msg{
		Type:        proto.TypeStateUpdate,
		SongID:      "s1",
		SongTitle:   "First",
		CurrentTime: proto.Float(10),
		Duration:    proto.Float(180),
		IsPlaying:   proto.Bool(true),
		Queue:       []proto.Track{{ID: "s1"}, {ID: "s2", Duration: 200}},
	})
	waitFor(t, "replicated state", func() bool { return b.Snapshot().SongID == "s1" })
	send(&proto.Msg{Type: proto.TypeMainClosed})
	waitFor(t, "no-owner latch", func() bool { return b.NoOwner() })

	// Jumping to a queue entry takes over with that entry, not with the
	// previously replicated track and position.
	if err := b.PlaySong(context.Background(), "s2"); err != nil {
		t.Fatalf("PlaySong: %v", err)
	}
	if b.Role() != RoleOwner {
		t.Fatalf("role = %v, want owner", b.Role())
	}
	snap := b.Snapshot()
	if snap.SongID != "s2" {
		t.Fatalf("song = %q, want s2", snap.SongID)
	}
	if snap.PositionSeconds != 0 || engB.PositionMillis() != 0 {
		t.Fatalf("playSong must start from zero, got %vs / %dms",
			snap.PositionSeconds, engB.PositionMillis())
	}
	if got := engB.Current().StreamURL; got != "stream://s2" {
		t.Fatalf("engine stream = %q, want stream://s2", got)
	}
}

func TestTakeoverPlaySongUnknownIDStaysMirror(t *testing.T) {
	hub := bus.NewHub()
	b, engB := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	send(&proto.Msg{
		Type:        proto.TypeStateUpdate,
		SongID:      "s1",
		CurrentTime: proto.Float(10),
		IsPlaying:   proto.Bool(true),
		Queue:       []proto.Track{{ID: "s1"}},
	})
	waitFor(t, "replicated state", func() bool { return b.Snapshot().SongID == "s1" })
	send(&proto.Msg{Type: proto.TypeMainClosed})
	waitFor(t, "no-owner latch", func() bool { return b.NoOwner() })

	if err := b.PlaySong(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for a song outside the queue")
	}
	if b.Role() == RoleOwner || engB.Loads() != 0 {
		t.Fatal("failed playSong takeover still promoted")
	}
}

func TestSelfTaggedMessagesIgnored(t *testing.T) {
	hub := bus.NewHub()
	b, _ := newTab(t, hub, "tab-b")
	ctx := context.Background()

	b.handle(ctx, &proto.Msg{Type: proto.TypeMainClosed, TabID: "tab-b"})
	if b.NoOwner() {
		t.Fatal("own departure echo latched no-owner")
	}

	b.handle(ctx, &proto.Msg{
		Type:        proto.TypeStateUpdate,
		TabID:       "tab-b",
		SongID:      "sX",
		CurrentTime: proto.Float(99),
	})
	if s := b.Snapshot(); s.SongID != "" || s.PositionSeconds != 0 {
		t.Fatalf("own state echo merged: %+v", s)
	}
	if len(b.Recent()) != 0 {
		t.Fatal("own echo traced")
	}
}

func TestDepartureWinsOverLivenessReply(t *testing.T) {
	hub := bus.NewHub()
	b, _ := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	send(&proto.Msg{Type: proto.TypeMainClosed})
	waitFor(t, "no-owner latch", func() bool { return b.NoOwner() })

	// A late affirmative reply must not resurrect the departed owner.
	send(&proto.Msg{Type: proto.TypeMainResponse, IsPlaying: proto.Bool(true)})
	time.Sleep(20 * time.Millisecond)
	if !b.NoOwner() {
		t.Fatal("liveness reply cleared the latch")
	}

	// Fresh owner evidence does clear it.
	send(&proto.Msg{Type: proto.TypeStateUpdate, SongID: "s1", CurrentTime: proto.Float(1)})
	waitFor(t, "latch cleared by owner state", func() bool { return !b.NoOwner() })
	if b.LastOwnerID() != "ghost" {
		t.Fatalf("lastOwnerID = %q", b.LastOwnerID())
	}
}

func TestProbeOwner(t *testing.T) {
	t.Run("no reply times out and latches", func(t *testing.T) {
		hub := bus.NewHub()
		b, _ := newTab(t, hub, "tab-b")
		if b.ProbeOwner(context.Background()) {
			t.Fatal("probe found an owner on an empty bus")
		}
		if !b.NoOwner() {
			t.Fatal("failed probe did not latch no-owner")
		}
	})

	t.Run("playing owner answers", func(t *testing.T) {
		hub := bus.NewHub()
		a, _ := newTab(t, hub, "tab-a")
		b, _ := newTab(t, hub, "tab-b")
		s1 := proto.Track{ID: "s1", Duration: 180}
		if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
			t.Fatalf("PlayNow: %v", err)
		}
		if !b.ProbeOwner(context.Background()) {
			t.Fatal("probe missed a live playing owner")
		}
	})
}

func TestPlayNowRelaysToLiveOwner(t *testing.T) {
	hub := bus.NewHub()
	a, engA := newTab(t, hub, "tab-a")
	b, engB := newTab(t, hub, "tab-b")

	s1 := proto.Track{ID: "s1", Duration: 180}
	s2 := proto.Track{ID: "s2", Duration: 200}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1, s2}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	waitFor(t, "mirror to converge", func() bool { return b.Snapshot().SongID == "s1" })

	// The owner is alive and playing, so the mirror relays instead of
	// taking over.
	if err := b.PlayNow(context.Background(), s2, nil); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	waitFor(t, "owner to start s2", func() bool {
		return engA.Current().StreamURL == "stream://s2"
	})
	if b.Role() == RoleOwner || engB.Loads() != 0 {
		t.Fatal("mirror took over despite a live owner")
	}
	waitFor(t, "queue move-to-end to replicate", func() bool {
		q := b.Snapshot().Queue
		return len(q) == 2 && q[len(q)-1].ID == "s2"
	})
}

func TestDoublePromotionSelfHeals(t *testing.T) {
	hub := bus.NewHub()
	a, engA := newTab(t, hub, "tab-a")
	b, _ := newTab(t, hub, "tab-b")

	s1 := proto.Track{ID: "s1", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	waitFor(t, "mirror to converge", func() bool { return b.Snapshot().SongID == "s1" })

	// Quiet the owner's progress ticker so the race below is decided by
	// the ownership announcement alone.
	a.SetProgressInterval(time.Hour)
	time.Sleep(60 * time.Millisecond)

	// Simulate the race where the mirror concluded the owner was gone
	// and promoted itself while the owner is still alive.
	if err := b.promote(context.Background(), proto.ActionTogglePlay); err != nil {
		t.Fatalf("promote: %v", err)
	}

	// The ownership announcement demotes the old owner and silences its
	// audio.
	waitFor(t, "old owner to demote", func() bool { return a.Role() == RoleMirror })
	waitFor(t, "old owner audio to stop", func() bool { return !engA.Playing() })
	if b.Role() != RoleOwner {
		t.Fatalf("new owner role = %v", b.Role())
	}
	if a.LastOwnerID() != "tab-b" {
		t.Fatalf("old owner lastOwnerID = %q", a.LastOwnerID())
	}
}

func TestRequestStateRetryBudget(t *testing.T) {
	hub := bus.NewHub()
	p := hub.Attach()
	t.Cleanup(func() { p.Close() })
	ch, unsub := p.Subscribe()
	t.Cleanup(unsub)

	var requests atomic.Int64
	go func() {
		for m := range ch {
			if m.Type == proto.TypeRequestState {
				requests.Add(1)
			}
		}
	}()

	attempts := 3
	eng := engine.NewMemory()
	m := New(Options{
		TabID:                "tab-b",
		Bus:                  hub.Attach(),
		Engine:               eng,
		Resolver:             testResolver(),
		RequestStateAttempts: attempts,
		RequestStateInterval: 20 * time.Millisecond,
		ProbeTimeout:         10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { m.Close() })
	m.Run(ctx)

	// No one answers: the tab must stop asking after the budget.
	time.Sleep(200 * time.Millisecond)
	if got := requests.Load(); got != int64(attempts) {
		t.Fatalf("request count = %d, want %d", got, attempts)
	}
	if m.Role() != RoleMirror {
		t.Fatalf("unanswered tab role = %v, want mirror", m.Role())
	}
}

func TestOwnerAnswersRequestState(t *testing.T) {
	hub := bus.NewHub()
	a, _ := newTab(t, hub, "tab-a")

	s1 := proto.Track{ID: "s1", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}

	// A late-joining tab converges via its first REQUEST_STATE without
	// waiting for the next progress tick.
	b, _ := newTab(t, hub, "tab-b")
	waitFor(t, "late joiner to converge", func() bool {
		s := b.Snapshot()
		return s.SongID == "s1" && s.DurationSeconds == 180
	})
}

func TestStandaloneRunsAsOwner(t *testing.T) {
	eng := engine.NewMemory()
	m := New(Options{
		TabID:    "tab-solo",
		Engine:   eng,
		Resolver: testResolver(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Run(ctx)

	if m.Role() != RoleOwner {
		t.Fatalf("standalone role = %v, want owner", m.Role())
	}
	s1 := proto.Track{ID: "s1", Duration: 180}
	if err := m.PlayNow(ctx, s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	if !eng.Playing() {
		t.Fatal("standalone engine not playing")
	}
}

func TestOwnerShutdownPausesMirrors(t *testing.T) {
	hub := bus.NewHub()
	b, _ := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	send(&proto.Msg{
		Type:        proto.TypeStateUpdate,
		SongID:      "s1",
		CurrentTime: proto.Float(5),
		IsPlaying:   proto.Bool(true),
	})
	waitFor(t, "playing state", func() bool { return b.Snapshot().IsPlaying })

	// The owner's explicit pause broadcast is the one foreign command a
	// mirror honours.
	send(&proto.Msg{Type: proto.TypeControl, Action: proto.ActionPause})
	waitFor(t, "mirror paused", func() bool { return !b.Snapshot().IsPlaying })
}

func TestOwnerCloseBroadcastsPauseBeforeDeparture(t *testing.T) {
	hub := bus.NewHub()
	a, _ := newTab(t, hub, "tab-a")

	p := hub.Attach()
	t.Cleanup(func() { p.Close() })
	ch, unsub := p.Subscribe()
	t.Cleanup(unsub)

	var mu sync.Mutex
	var seq []string
	go func() {
		for m := range ch {
			if m.Type == proto.TypeMainClosed ||
				(m.Type == proto.TypeControl && m.Action == proto.ActionPause) {
				mu.Lock()
				seq = append(seq, m.Type)
				mu.Unlock()
			}
		}
	}()

	s1 := proto.Track{ID: "s1", Duration: 180}
	if err := a.PlayNow(context.Background(), s1, []proto.Track{s1}); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}
	a.Close()

	waitFor(t, "departure notice", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seq) > 0 && seq[len(seq)-1] == proto.TypeMainClosed
	})
	mu.Lock()
	defer mu.Unlock()
	if len(seq) != 2 || seq[0] != proto.TypeControl {
		t.Fatalf("shutdown sequence = %v, want [%s %s]",
			seq, proto.TypeControl, proto.TypeMainClosed)
	}
}

func TestListenDeliversSnapshots(t *testing.T) {
	hub := bus.NewHub()
	b, _ := newTab(t, hub, "tab-b")
	send := ghost(t, hub)

	ch, cancel := b.Listen()
	defer cancel()

	send(&proto.Msg{Type: proto.TypeStateUpdate, SongID: "s1", CurrentTime: proto.Float(3)})

	select {
	case s := <-ch:
		if s.SongID != "s1" {
			t.Fatalf("listener snapshot = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}
