// Package session coordinates playback authority across tabs: exactly one
// tab (the owner) drives the media engine, everyone else mirrors the
// owner's replicated state and relays commands back to it.
package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/bus"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/engine"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/playback"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/resolver"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/util"
)

const (
	defaultProgressInterval     = time.Second
	defaultRequestStateAttempts = 5
	defaultRequestStateInterval = 2 * time.Second
	defaultProbeTimeout         = 200 * time.Millisecond
	defaultTraceSize            = 200
	listenerCap                 = 16
)

// Options configures a Manager. Zero values fall back to the defaults
// above. Bus may be nil, in which case the tab runs standalone and acts
// as its own owner.
type Options struct {
	TabID    string
	Bus      bus.Bus
	Engine   engine.Engine
	Resolver resolver.Resolver

	ProgressInterval     time.Duration
	RequestStateAttempts int
	RequestStateInterval time.Duration
	ProbeTimeout         time.Duration
	TraceSize            int
}

// TraceEntry is one observed protocol message, kept in a bounded ring
// for diagnostics.
type TraceEntry struct {
	TS     int64  `json:"ts"`
	Type   string `json:"type"`
	TabID  string `json:"tabId,omitempty"`
	Action string `json:"action,omitempty"`
}

// Manager is the per-tab protocol participant. All mutable session
// state lives behind mu; engine and bus calls happen outside it.
type Manager struct {
	tabID string
	bus   bus.Bus
	eng   engine.Engine
	res   resolver.Resolver
	opts  Options

	progressNs atomic.Int64

	mu          sync.Mutex
	role        Role
	lastOwnerID string
	noOwner     bool
	gotState    bool
	snap        playback.Snapshot

	probeMu sync.Mutex
	probe   chan bool

	traceMu  sync.Mutex
	trace    []TraceEntry
	traceMax int

	listenerMu sync.Mutex
	listeners  map[chan playback.Snapshot]struct{}

	runCancel context.CancelFunc
	closeOnce sync.Once
}

func New(opts Options) *Manager {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	if opts.RequestStateAttempts <= 0 {
		opts.RequestStateAttempts = defaultRequestStateAttempts
	}
	if opts.RequestStateInterval <= 0 {
		opts.RequestStateInterval = defaultRequestStateInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.TraceSize <= 0 {
		opts.TraceSize = defaultTraceSize
	}
	m := &Manager{
		tabID:     opts.TabID,
		bus:       opts.Bus,
		eng:       opts.Engine,
		res:       opts.Resolver,
		opts:      opts,
		role:      RoleUnknown,
		snap:      playback.New(),
		traceMax:  opts.TraceSize,
		listeners: make(map[chan playback.Snapshot]struct{}),
	}
	m.progressNs.Store(int64(opts.ProgressInterval))
	return m
}

// Run starts the receive loop, the initial state request and the owner
// progress ticker. It returns immediately; Close stops everything.
func (m *Manager) Run(ctx context.Context) {
	ctx, m.runCancel = context.WithCancel(ctx)

	if m.bus == nil {
		// Standalone degradation: no carrier means no coordination, so
		// this tab is its own owner.
		log.Printf("SESSION: no bus attached, running standalone as owner")
		m.mu.Lock()
		m.role = RoleOwner
		m.lastOwnerID = m.tabID
		m.mu.Unlock()
	} else {
		ch, unsub := m.bus.Subscribe()
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					m.handle(ctx, msg)
				}
			}
		}()
		go m.requestStateLoop(ctx)
		go func() {
			// If nothing at all is heard in the first window, settle
			// on mirror rather than staying undecided.
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.opts.RequestStateInterval):
			}
			m.mu.Lock()
			m.role = transition(m.role, eventSilence)
			m.mu.Unlock()
		}()
	}

	go m.progressLoop(ctx)
}

// Close announces departure when this tab owns playback, then stops all
// loops. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.isOwner() && m.bus != nil {
			ctx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
			// Pause everyone first, then announce departure; mirrors
			// stop on the pause even if the departure notice is lost.
			m.publish(ctx, &proto.Msg{Type: proto.TypeControl, Action: proto.ActionPause})
			m.publish(ctx, &proto.Msg{Type: proto.TypeMainClosed})
			cancel()
			log.Printf("SESSION: tab %s departing as owner", m.tabID)
		}
		if m.runCancel != nil {
			m.runCancel()
		}
	})
	return nil
}

func (m *Manager) TabID() string { return m.tabID }

func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Manager) LastOwnerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOwnerID
}

// NoOwner reports whether the no-owner latch is set: the last owner
// departed or failed a liveness probe, and no new owner has surfaced.
func (m *Manager) NoOwner() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noOwner
}

// Snapshot returns a copy of the current playback view.
func (m *Manager) Snapshot() playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone()
}

// Listen registers a snapshot listener. Every accepted state change
// delivers a fresh clone; slow listeners miss updates rather than block
// the protocol. The returned func unregisters.
func (m *Manager) Listen() (<-chan playback.Snapshot, func()) {
	ch := make(chan playback.Snapshot, listenerCap)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()
	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// SetProgressInterval retunes the owner progress tick, used by config
// hot reload.
func (m *Manager) SetProgressInterval(d time.Duration) {
	if d > 0 {
		m.progressNs.Store(int64(d))
	}
}

// Recent returns a copy of the diagnostic message trace, oldest first.
func (m *Manager) Recent() []TraceEntry {
	m.traceMu.Lock()
	defer m.traceMu.Unlock()
	out := make([]TraceEntry, len(m.trace))
	copy(out, m.trace)
	return out
}

func (m *Manager) isOwner() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role == RoleOwner
}

func (m *Manager) notify() {
	m.mu.Lock()
	s := m.snap.Clone()
	m.mu.Unlock()
	m.listenerMu.Lock()
	for ch := range m.listeners {
		select {
		case ch <- s:
		default:
		}
	}
	m.listenerMu.Unlock()
}

func (m *Manager) addTrace(msg *proto.Msg) {
	m.traceMu.Lock()
	m.trace = append(m.trace, TraceEntry{
		TS:     msg.TS,
		Type:   msg.Type,
		TabID:  msg.TabID,
		Action: msg.Action,
	})
	if len(m.trace) > m.traceMax {
		m.trace = m.trace[len(m.trace)-m.traceMax:]
	}
	m.traceMu.Unlock()
}

// publish stamps and sends one message. The envelope always carries our
// tab id so other participants can filter and attribute it.
func (m *Manager) publish(ctx context.Context, msg *proto.Msg) {
	if m.bus == nil {
		return
	}
	msg.ID = uuid.NewString()
	msg.TabID = m.tabID
	msg.TS = proto.NowMillis()
	if err := m.bus.Publish(ctx, msg); err != nil {
		log.Printf("SESSION: publish %s: %v", msg.Type, err)
	}
}

// handle dispatches one inbound message. Anything tagged with our own
// tab id is a transport echo and is dropped before any other effect.
func (m *Manager) handle(ctx context.Context, msg *proto.Msg) {
	if msg == nil || (msg.TabID != "" && msg.TabID == m.tabID) {
		return
	}
	m.addTrace(msg)

	switch msg.Type {
	case proto.TypeStateUpdate:
		m.onStateUpdate(msg)
	case proto.TypeQueueUpdate:
		m.onQueueUpdate(msg)
	case proto.TypeFullUpdate:
		m.onFullUpdate(msg)
	case proto.TypeControl:
		m.onControl(ctx, msg)
	case proto.TypeRequestState:
		if m.isOwner() {
			m.publishFull(ctx)
			m.publishProgress(ctx)
		}
	case proto.TypeMainCheck:
		if m.isOwner() {
			m.mu.Lock()
			playing := m.snap.IsPlaying
			m.mu.Unlock()
			m.publish(ctx, &proto.Msg{
				Type:      proto.TypeMainResponse,
				IsPlaying: proto.Bool(playing),
			})
		}
	case proto.TypeMainResponse:
		// Only answers an in-flight probe. It never clears the
		// no-owner latch on its own: a stale reply racing a departure
		// notice must not resurrect a gone owner.
		if msg.IsPlaying != nil && *msg.IsPlaying {
			m.answerProbe(true)
		}
	case proto.TypeMainClosed:
		m.onMainClosed()
	case proto.TypeMainActive:
		m.onMainActive(msg)
	}
}

// onStateUpdate merges foreign progress. Any foreign-tagged progress is
// proof a live owner exists, so it also demotes us if we believed we
// were the owner (self-healing after a double promotion).
func (m *Manager) onStateUpdate(msg *proto.Msg) {
	m.mu.Lock()
	wasOwner := m.role == RoleOwner
	if msg.TabID != "" {
		m.role = transition(m.role, eventForeignState)
		m.lastOwnerID = msg.TabID
		m.noOwner = false
		m.gotState = true
	}
	changed := m.snap.ApplyProgress(msg)
	m.mu.Unlock()

	if wasOwner && msg.TabID != "" {
		log.Printf("SESSION: foreign owner state from %s, demoting", msg.TabID)
		m.eng.Pause()
	}
	if changed || (wasOwner && msg.TabID != "") {
		m.notify()
	}
}

func (m *Manager) onQueueUpdate(msg *proto.Msg) {
	m.mu.Lock()
	changed := m.snap.ApplyQueue(msg)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Manager) onFullUpdate(msg *proto.Msg) {
	m.mu.Lock()
	changed := m.snap.ApplyFull(msg)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Manager) onControl(ctx context.Context, msg *proto.Msg) {
	if m.isOwner() {
		m.applyCommand(ctx, msg)
		return
	}
	// Mirrors never execute another tab's command, with one exception:
	// the owner's explicit pause broadcast on shutdown.
	if msg.Action == proto.ActionPause {
		m.mu.Lock()
		changed := m.snap.IsPlaying
		m.snap.IsPlaying = false
		m.mu.Unlock()
		if changed {
			m.notify()
		}
	}
}

func (m *Manager) onMainClosed() {
	m.mu.Lock()
	if m.role == RoleOwner {
		// Some other tab that believed it owned playback departed; we
		// are the live owner, nothing changes for us.
		m.mu.Unlock()
		return
	}
	m.noOwner = true
	m.lastOwnerID = ""
	changed := m.snap.IsPlaying
	m.snap.IsPlaying = false
	m.mu.Unlock()

	// Departure wins over a pending affirmative liveness reply.
	m.answerProbe(false)
	log.Printf("SESSION: owner departed, playback latched off")
	if changed {
		m.notify()
	}
}

func (m *Manager) onMainActive(msg *proto.Msg) {
	m.mu.Lock()
	wasOwner := m.role == RoleOwner
	m.noOwner = false
	m.lastOwnerID = msg.TabID
	m.role = transition(m.role, eventForeignOwner)
	m.mu.Unlock()

	if wasOwner {
		// Both sides of a takeover race promoted; yield to the
		// announcement and fall back to mirroring.
		log.Printf("SESSION: tab %s also promoted, demoting", msg.TabID)
		m.eng.Pause()
	}
	m.notify()
}

func (m *Manager) answerProbe(alive bool) {
	m.probeMu.Lock()
	if m.probe != nil {
		select {
		case m.probe <- alive:
		default:
		}
	}
	m.probeMu.Unlock()
}

// ProbeOwner asks whether a live owner exists and waits briefly for an
// affirmative reply. Timeout or an explicit departure both count as "no
// owner" and set the latch.
func (m *Manager) ProbeOwner(ctx context.Context) bool {
	if m.bus == nil {
		return false
	}
	ch := make(chan bool, 1)
	m.probeMu.Lock()
	m.probe = ch
	m.probeMu.Unlock()
	defer func() {
		m.probeMu.Lock()
		m.probe = nil
		m.probeMu.Unlock()
	}()

	m.publish(ctx, &proto.Msg{Type: proto.TypeMainCheck})

	timer := time.NewTimer(m.opts.ProbeTimeout)
	defer timer.Stop()
	select {
	case alive := <-ch:
		if alive {
			return true
		}
	case <-timer.C:
	case <-ctx.Done():
	}
	m.mu.Lock()
	m.noOwner = true
	m.mu.Unlock()
	return false
}
