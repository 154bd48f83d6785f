// Package bus provides the broadcast transport connecting tabs: an
// unordered, at-most-once, fire-and-forget channel. A publisher never
// receives its own messages back. The in-process hub, the websocket
// bridge client and the libp2p gossipsub carrier all honor the same
// contract.
package bus

import (
	"context"
	"sync"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// Bus is the broadcast channel a tab publishes to and receives from.
type Bus interface {
	// Publish sends m to every other attached tab. Fire-and-forget:
	// delivery is neither acknowledged nor ordered across publishers.
	Publish(ctx context.Context, m *proto.Msg) error

	// Subscribe returns a channel of incoming envelopes and a cancel
	// function. Slow consumers lose messages rather than block the bus.
	Subscribe() (<-chan *proto.Msg, func())

	Close() error
}

// subscriberCap is the buffer per subscriber channel; overflow is dropped.
const subscriberCap = 64

// fanout is the shared listener bookkeeping used by every carrier.
type fanout struct {
	mu        sync.RWMutex
	listeners map[chan *proto.Msg]struct{}
	closed    bool
}

func newFanout() *fanout {
	return &fanout{listeners: make(map[chan *proto.Msg]struct{})}
}

func (f *fanout) subscribe() (<-chan *proto.Msg, func()) {
	ch := make(chan *proto.Msg, subscriberCap)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.listeners[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.listeners[ch]; ok {
			delete(f.listeners, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *fanout) deliver(m *proto.Msg) {
	f.mu.RLock()
	for ch := range f.listeners {
		select {
		case ch <- m:
		default:
			// Subscriber full, drop.
		}
	}
	f.mu.RUnlock()
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		for ch := range f.listeners {
			close(ch)
		}
		f.listeners = make(map[chan *proto.Msg]struct{})
	}
	f.mu.Unlock()
}
