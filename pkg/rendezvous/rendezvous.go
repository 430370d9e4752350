// Package rendezvous implements the DHT rendezvous contract (C2): given a
// 32-byte topic, produce exactly one connected, full-duplex byte stream
// to whichever peer joined the same topic.
//
// The receiver's join ordering is load-bearing (documented inline on
// DialReceiver): the first-connection observer must be armed before the
// DHT announcement is flushed, or the incoming connection can race the
// observer's registration and be missed entirely.
package rendezvous

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/mjvec/hyperstream/pkg/logging"
)

const (
	protocolID = "/hyperstream/1.0.0"

	// Timeout is the rendezvous ceiling, measured from when the
	// first-connection observer is armed.
	Timeout = 30 * time.Second

	bootstrapTimeout = 15 * time.Second
	findPeersPoll    = 2 * time.Second
)

// Socket is the full-duplex byte stream a successful rendezvous yields.
type Socket = io.ReadWriteCloser

// Handle owns the DHT node state for one rendezvous attempt. Destroy is
// idempotent and safe to call from any exit path.
type Handle struct {
	host      host.Host
	dht       *dht.IpfsDHT
	discovery *routing.RoutingDiscovery
	cancel    context.CancelFunc

	log *slog.Logger

	destroyOnce sync.Once
}

// Destroy closes every socket the handle opened and releases the DHT
// state. Safe to call more than once and from any goroutine.
func (h *Handle) Destroy() {
	h.destroyOnce.Do(func() {
		h.cancel()
		if h.dht != nil {
			_ = h.dht.Close()
		}
		if h.host != nil {
			_ = h.host.Close()
		}
	})
}

func newHandle(parent context.Context, log *slog.Logger) (*Handle, context.Context, error) {
	log = logging.OrDefault(log)
	ctx, cancel := context.WithCancel(parent)

	h, err := libp2p.New(
		libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"),
		libp2p.EnableRelay(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	)
	if err != nil {
		cancel()
		return nil, nil, &errs.RendezvousFailedError{Cause: err}
	}
	log.Debug("host listening", slog.Any("addrs", reachableAddrs(h.Addrs())))

	kadDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, nil, &errs.RendezvousFailedError{Cause: err}
	}

	connectBootstrap(ctx, h, log)

	if err := kadDHT.Bootstrap(ctx); err != nil {
		cancel()
		_ = kadDHT.Close()
		_ = h.Close()
		return nil, nil, &errs.RendezvousFailedError{Cause: err}
	}

	handle := &Handle{
		host:      h,
		dht:       kadDHT,
		discovery: routing.NewRoutingDiscovery(kadDHT),
		cancel:    cancel,
		log:       log,
	}
	return handle, ctx, nil
}

// reachableAddrs renders a host's listen multiaddrs for logging, one
// string per address; no address is filtered out.
func reachableAddrs(addrs []ma.Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func connectBootstrap(ctx context.Context, h host.Host, log *slog.Logger) {
	var wg sync.WaitGroup
	for _, addr := range dht.DefaultBootstrapPeers {
		ai, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(ai peer.AddrInfo) {
			defer wg.Done()
			bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
			defer cancel()
			if err := h.Connect(bctx, ai); err != nil {
				log.Debug("bootstrap peer unreachable", slog.String("peer", ai.ID.String()), slog.Any("err", err))
			}
		}(*ai)
	}
	wg.Wait()
}

// topicNamespace derives the libp2p discovery namespace string from a
// topic key. The hex encoding is reversible; the routing discovery layer
// hashes the namespace into a content ID before it reaches the DHT.
func topicNamespace(topic key.TopicKey) string {
	return "hyperstream/" + hex.EncodeToString(topic[:])
}

// observer delivers the first connected stream for a topic, whether it
// arrived inbound (a peer dialed us) or outbound (we dialed a peer we
// discovered).
type observer struct {
	once     sync.Once
	ch       chan network.Stream
	deadline <-chan time.Time
}

func newObserver() *observer {
	return &observer{ch: make(chan network.Stream, 1), deadline: time.After(Timeout)}
}

func (o *observer) deliver(s network.Stream) {
	delivered := false
	o.once.Do(func() {
		o.ch <- s
		delivered = true
	})
	if !delivered {
		_ = s.Close()
	}
}

// arm registers the stream handler that fulfills the observer for inbound
// dials, and starts a background search that dials out to any peer
// discovered under the topic's namespace.
func (h *Handle) arm(ctx context.Context, ns string) *observer {
	obs := newObserver()
	h.host.SetStreamHandler(protocolID, func(s network.Stream) {
		obs.deliver(s)
	})
	go h.searchAndDial(ctx, ns, obs)
	return obs
}

func (h *Handle) searchAndDial(ctx context.Context, ns string, obs *observer) {
	ticker := time.NewTicker(findPeersPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		peers, err := h.discovery.FindPeers(ctx, ns)
		if err != nil {
			continue
		}
		for p := range peers {
			if p.ID == h.host.ID() || len(p.Addrs) == 0 {
				continue
			}
			go h.dialAndOpen(ctx, p, obs)
		}
	}
}

func (h *Handle) dialAndOpen(ctx context.Context, p peer.AddrInfo, obs *observer) {
	if err := h.host.Connect(ctx, p); err != nil {
		return
	}
	s, err := h.host.NewStream(ctx, p.ID, protocolID)
	if err != nil {
		return
	}
	obs.deliver(s)
}

func await(ctx context.Context, obs *observer) (network.Stream, error) {
	select {
	case s := <-obs.ch:
		return s, nil
	case <-obs.deadline:
		return nil, errs.ErrRendezvousTimeout
	case <-ctx.Done():
		return nil, errs.ErrCancelled
	}
}

// DialSender performs the sender's rendezvous sequence: create the DHT
// handle, join the topic, flush the join (await the DHT announcement),
// then arm the first-connection observer and await it.
func DialSender(ctx context.Context, topic key.TopicKey, log *slog.Logger) (Socket, *Handle, error) {
	h, hctx, err := newHandle(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	ns := topicNamespace(topic)
	if _, err := h.discovery.Advertise(hctx, ns); err != nil {
		h.Destroy()
		return nil, nil, &errs.RendezvousFailedError{Cause: err}
	}

	obs := h.arm(hctx, ns)
	s, err := await(hctx, obs)
	if err != nil {
		h.Destroy()
		return nil, nil, err
	}
	return s, h, nil
}

// DialReceiver performs the receiver's rendezvous sequence. ORDERING IS
// LOAD-BEARING: the first-connection observer is armed before the topic
// is joined and the join is flushed. Arming the observer after Advertise
// would let a fast DHT round-trip connect a peer before anything is
// listening for it, silently dropping the only connection this session
// will ever get.
func DialReceiver(ctx context.Context, topic key.TopicKey, log *slog.Logger) (Socket, *Handle, error) {
	h, hctx, err := newHandle(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	ns := topicNamespace(topic)
	obs := h.arm(hctx, ns)

	if _, err := h.discovery.Advertise(hctx, ns); err != nil {
		h.Destroy()
		return nil, nil, &errs.RendezvousFailedError{Cause: err}
	}

	s, err := await(hctx, obs)
	if err != nil {
		h.Destroy()
		return nil, nil, err
	}
	return s, h, nil
}
