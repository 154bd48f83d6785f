package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// Hub is an in-process broadcast medium: every attached Port is one tab.
// Used by tests and by single-process multi-tab demos. Envelopes go
// through a JSON round-trip so ports never share mutable state, matching
// the structured-clone behavior of the real channel.
type Hub struct {
	mu    sync.Mutex
	ports map[*Port]struct{}
}

func NewHub() *Hub {
	return &Hub{ports: make(map[*Port]struct{})}
}

// Attach creates a new endpoint on the hub.
func (h *Hub) Attach() *Port {
	p := &Port{hub: h, fanout: newFanout()}
	h.mu.Lock()
	h.ports[p] = struct{}{}
	h.mu.Unlock()
	return p
}

func (h *Hub) broadcast(from *Port, data []byte) {
	h.mu.Lock()
	targets := make([]*Port, 0, len(h.ports))
	for p := range h.ports {
		if p != from {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	for _, p := range targets {
		var m proto.Msg
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		p.fanout.deliver(&m)
	}
}

func (h *Hub) detach(p *Port) {
	h.mu.Lock()
	delete(h.ports, p)
	h.mu.Unlock()
}

// Port is one tab's endpoint on a Hub.
type Port struct {
	hub    *Hub
	fanout *fanout

	mu     sync.Mutex
	closed bool
}

func (p *Port) Publish(_ context.Context, m *proto.Msg) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("bus: port closed")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	p.hub.broadcast(p, data)
	return nil
}

func (p *Port) Subscribe() (<-chan *proto.Msg, func()) {
	return p.fanout.subscribe()
}

func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.hub.detach(p)
	p.fanout.closeAll()
	return nil
}
