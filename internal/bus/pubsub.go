package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/util"
)

func init() {
	// Silence noisy libp2p subsystems: dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

// PubSubBus carries the player channel over a libp2p gossipsub topic, so
// "tabs" on different machines of the same LAN coordinate too. Peers are
// found via mDNS plus optional bootstrap multiaddrs.
type PubSubBus struct {
	host   host.Host
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	fanout *fanout
	cancel context.CancelFunc
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DialTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// NewPubSub starts a libp2p host on listenPort and joins topicName.
func NewPubSub(ctx context.Context, listenPort int, topicName string, bootstrap []string) (*PubSubBus, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	md := mdns.NewMdnsService(h, proto.MdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	for _, s := range bootstrap {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			log.Printf("BUS: bad bootstrap addr %q: %v", s, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Printf("BUS: bad bootstrap addr %q: %v", s, err)
			continue
		}
		connCtx, cancel := context.WithTimeout(ctx, util.DialTimeout)
		if err := h.Connect(connCtx, *pi); err != nil {
			log.Printf("BUS: bootstrap connect %s: %v", pi.ID, err)
		}
		cancel()
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b := &PubSubBus{
		host:   h,
		topic:  topic,
		sub:    sub,
		fanout: newFanout(),
		cancel: cancel,
	}
	go b.readLoop(loopCtx)

	log.Printf("BUS: pubsub up (peer %s, topic %s)", h.ID(), topicName)
	return b, nil
}

func (b *PubSubBus) readLoop(ctx context.Context) {
	defer b.fanout.closeAll()
	self := b.host.ID()
	for {
		pm, err := b.sub.Next(ctx)
		if err != nil {
			return
		}
		if pm.ReceivedFrom == self {
			continue
		}
		var m proto.Msg
		if err := json.Unmarshal(pm.Data, &m); err != nil {
			continue
		}
		b.fanout.deliver(&m)
	}
}

func (b *PubSubBus) Publish(ctx context.Context, m *proto.Msg) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.topic.Publish(ctx, data)
}

func (b *PubSubBus) Subscribe() (<-chan *proto.Msg, func()) {
	return b.fanout.subscribe()
}

func (b *PubSubBus) Close() error {
	b.cancel()
	b.sub.Cancel()
	return b.host.Close()
}
