package bus

import (
	"context"
	"testing"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

func recv(t *testing.T, ch <-chan *proto.Msg) *proto.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	a := hub.Attach()
	b := hub.Attach()
	defer a.Close()
	defer b.Close()

	chA, unsubA := a.Subscribe()
	defer unsubA()
	chB, unsubB := b.Subscribe()
	defer unsubB()

	if err := a.Publish(context.Background(), &proto.Msg{Type: proto.TypeRequestState, TabID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := recv(t, chB)
	if m.Type != proto.TypeRequestState || m.TabID != "a" {
		t.Fatalf("got %+v", m)
	}
	select {
	case m := <-chA:
		t.Fatalf("sender received own message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIsolatesEnvelopes(t *testing.T) {
	hub := NewHub()
	a := hub.Attach()
	b := hub.Attach()
	c := hub.Attach()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	chB, _ := b.Subscribe()
	chC, _ := c.Subscribe()

	a.Publish(context.Background(), &proto.Msg{
		Type:  proto.TypeQueueUpdate,
		Queue: []proto.Track{{ID: "s1"}},
	})

	mB := recv(t, chB)
	mC := recv(t, chC)
	if mB == mC {
		t.Fatal("receivers share one envelope")
	}
	mB.Queue[0].ID = "mutated"
	if mC.Queue[0].ID != "s1" {
		t.Fatal("mutating one delivery leaked into another")
	}
}

func TestPortPublishAfterClose(t *testing.T) {
	hub := NewHub()
	p := hub.Attach()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Publish(context.Background(), &proto.Msg{Type: proto.TypeRequestState}); err == nil {
		t.Fatal("publish on closed port succeeded")
	}
	// Close is idempotent.
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	a := hub.Attach()
	b := hub.Attach()
	defer a.Close()
	defer b.Close()

	// Never drained: once the buffer fills, deliveries are dropped and
	// Publish keeps returning promptly.
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberCap*3; i++ {
			a.Publish(context.Background(), &proto.Msg{Type: proto.TypeRequestState})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
