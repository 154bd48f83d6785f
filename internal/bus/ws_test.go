package bus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/bridge"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

func TestWSBusThroughBridge(t *testing.T) {
	srv := httptest.NewServer(bridge.NewHub().Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	a, err := DialBridge(ctx, url)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := DialBridge(ctx, url)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	chA, unsubA := a.Subscribe()
	defer unsubA()
	chB, unsubB := b.Subscribe()
	defer unsubB()

	sent := &proto.Msg{
		Type:        proto.TypeStateUpdate,
		TabID:       "tab-a",
		SongID:      "s1",
		CurrentTime: proto.Float(12.5),
		IsPlaying:   proto.Bool(true),
	}
	if err := a.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-chB:
		if m.Type != proto.TypeStateUpdate || m.SongID != "s1" || m.TabID != "tab-a" {
			t.Fatalf("got %+v", m)
		}
		if m.CurrentTime == nil || *m.CurrentTime != 12.5 {
			t.Fatalf("currentTime = %v", m.CurrentTime)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery through bridge")
	}

	select {
	case m := <-chA:
		t.Fatalf("sender received own frame: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialBridgeRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := DialBridge(ctx, "ws://127.0.0.1:1/ws"); err == nil {
		t.Fatal("dial to a dead address succeeded")
	}
}
