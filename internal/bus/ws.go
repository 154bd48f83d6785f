package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// WSBus connects a tab to the bridge hub over a websocket. The hub fans
// every frame out to all other connections and never echoes to the
// sender, so the no-self-delivery contract holds at the transport level.
type WSBus struct {
	conn   *websocket.Conn
	fanout *fanout

	writeMu sync.Mutex
	once    sync.Once
}

// DialBridge connects to a bridge hub at url (e.g. ws://127.0.0.1:8971/ws).
func DialBridge(ctx context.Context, url string) (*WSBus, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	b := &WSBus{conn: conn, fanout: newFanout()}
	go b.readLoop()
	log.Printf("BUS: connected to bridge %s", url)
	return b, nil
}

func (b *WSBus) readLoop() {
	defer b.fanout.closeAll()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("BUS: bridge read: %v", err)
			}
			return
		}
		var m proto.Msg
		if err := json.Unmarshal(data, &m); err != nil {
			// Malformed frame carries no information, drop.
			continue
		}
		b.fanout.deliver(&m)
	}
}

func (b *WSBus) Publish(_ context.Context, m *proto.Msg) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.conn == nil {
		return errors.New("bus: bridge connection closed")
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *WSBus) Subscribe() (<-chan *proto.Msg, func()) {
	return b.fanout.subscribe()
}

func (b *WSBus) Close() error {
	var err error
	b.once.Do(func() {
		b.writeMu.Lock()
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = b.conn.Close()
		b.writeMu.Unlock()
	})
	return err
}
