package push

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/pkg/crypto"
)

const (
	// brokerConnectTimeout bounds a single broker dial.
	brokerConnectTimeout = 10 * time.Second

	// brokerRetryInterval is how often brokers are redialled while none is connected.
	brokerRetryInterval = 10 * time.Second

	maxMessageSize = 64 * 1024
)

// GossipConfig configures a GossipTransport.
type GossipConfig struct {
	ListenAddr string
	Port       int
	// Brokers are multiaddrs ending in /p2p/<id>. A bare /p2p/<id> is
	// resolved through the DHT, bootstrapped from the addressed brokers.
	Brokers []string
	// DataDir holds the persistent identity used when no credentials are given.
	DataDir string
}

// GossipTransport carries notifications over libp2p GossipSub. Each concrete
// topic is a GossipSub topic; wildcard patterns are expanded on subscribe.
// Delivery is best effort, so qos and retained are advisory.
type GossipTransport struct {
	cfg     GossipConfig
	brokers []peer.AddrInfo

	// lifeMu serializes Connect and Close. creds are the credentials the
	// running host was started with.
	lifeMu sync.Mutex
	creds  Credentials

	ctx    context.Context
	cancel context.CancelFunc

	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT // nil unless a broker needs resolving
	notify *connNotifier

	mu        sync.Mutex
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	peers     map[peer.ID]struct{}
	onMessage MessageHandler
	onConn    ConnectionHandler
}

// NewGossipTransport validates the broker addresses and returns an
// unconnected transport.
func NewGossipTransport(cfg GossipConfig) (*GossipTransport, error) {
	brokers := make([]peer.AddrInfo, 0, len(cfg.Brokers))
	for _, s := range cfg.Brokers {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("broker %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("broker %q: %w", s, err)
		}
		brokers = append(brokers, *info)
	}
	return &GossipTransport{
		cfg:     cfg,
		brokers: brokers,
		topics:  make(map[string]*pubsub.Topic),
		subs:    make(map[string]*pubsub.Subscription),
		peers:   make(map[peer.ID]struct{}),
	}, nil
}

// Connect starts the host and dials the brokers. The peer identity is
// derived from the credentials so brokers can authorize the wallet.
// Connecting again with other credentials restarts the host under the new
// identity; subscriptions must then be renewed.
func (g *GossipTransport) Connect(ctx context.Context, creds Credentials) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.host != nil {
		if creds == g.creds {
			return nil
		}
		log.Push.Info().Str("wallet", creds.WalletID).Msg("Credentials changed, restarting push transport")
		if err := g.closeLocked(); err != nil {
			log.Push.Warn().Err(err).Msg("Closing previous host failed")
		}
	}

	priv, err := g.identity(creds)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", g.cfg.ListenAddr, g.cfg.Port)
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(addr),
		libp2p.Identity(priv),
	)
	if err != nil {
		return fmt.Errorf("%w: create libp2p host: %v", ErrTransportUnavailable, err)
	}

	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.notify = &connNotifier{transport: g}
	h.Network().Notify(g.notify)

	ps, err := pubsub.NewGossipSub(g.ctx, h, pubsub.WithMaxMessageSize(maxMessageSize))
	if err != nil {
		g.cancel()
		h.Close()
		return fmt.Errorf("%w: create pubsub: %v", ErrTransportUnavailable, err)
	}
	g.host = h
	g.pubsub = ps
	g.creds = creds

	if err := g.initDHT(); err != nil {
		log.Push.Warn().Err(err).Msg("DHT unavailable, brokers without addresses are unreachable")
	}

	log.Push.Info().
		Str("wallet", creds.WalletID).
		Str("peer", h.ID().String()).
		Int("brokers", len(g.brokers)).
		Msg("Push transport started")

	if len(g.brokers) > 0 && !g.connectBrokersOnce(ctx) {
		log.Push.Warn().Msg("No push broker reachable, retrying in background")
	}
	go g.connectBrokersLoop(g.ctx)
	return nil
}

func (g *GossipTransport) identity(creds Credentials) (libp2pcrypto.PrivKey, error) {
	if creds.Token != "" {
		seed := crypto.HashParts([]byte(creds.WalletID), []byte(creds.Token), []byte(creds.TokenPass))
		return libp2pcrypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed[:]))
	}
	if g.cfg.DataDir != "" {
		return loadOrCreateIdentity(g.cfg.DataDir)
	}
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	return priv, err
}

// initDHT starts a client-mode DHT when some broker was given without an
// address. The addressed brokers serve as bootstrap peers.
func (g *GossipTransport) initDHT() error {
	var bootstrap []peer.AddrInfo
	for _, info := range g.brokers {
		if len(info.Addrs) > 0 {
			bootstrap = append(bootstrap, info)
		}
	}
	if len(bootstrap) == len(g.brokers) {
		return nil
	}
	kadDHT, err := dht.New(g.ctx, g.host, dht.Mode(dht.ModeClient), dht.BootstrapPeers(bootstrap...))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	g.dht = kadDHT
	return kadDHT.Bootstrap(g.ctx)
}

// resolveBroker fills in the addresses of a broker known only by ID.
func (g *GossipTransport) resolveBroker(ctx context.Context, info peer.AddrInfo) (peer.AddrInfo, error) {
	if len(info.Addrs) > 0 {
		return info, nil
	}
	if g.dht == nil {
		return info, fmt.Errorf("no address for %s and no DHT", info.ID)
	}
	found, err := g.dht.FindPeer(ctx, info.ID)
	if err != nil {
		return info, fmt.Errorf("find peer %s: %w", info.ID, err)
	}
	return found, nil
}

// connectBrokersOnce dials every broker once. It reports whether at least
// one connected.
func (g *GossipTransport) connectBrokersOnce(ctx context.Context) bool {
	connected := false
	for _, info := range g.brokers {
		dctx, cancel := context.WithTimeout(ctx, brokerConnectTimeout)
		info, err := g.resolveBroker(dctx, info)
		if err == nil {
			err = g.host.Connect(dctx, info)
		}
		cancel()
		if err != nil {
			log.Push.Warn().Str("broker", info.ID.String()).Err(err).Msg("Broker connect failed")
			continue
		}
		log.Push.Info().Str("broker", info.ID.String()).Msg("Broker connected")
		connected = true
	}
	return connected
}

// connectBrokersLoop redials brokers while no peer is connected.
func (g *GossipTransport) connectBrokersLoop(ctx context.Context) {
	if len(g.brokers) == 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(brokerRetryInterval):
			if g.PeerCount() == 0 {
				g.connectBrokersOnce(ctx)
			}
		}
	}
}

// Subscribe implements Transport.
func (g *GossipTransport) Subscribe(pattern string) error {
	if g.pubsub == nil {
		return fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}
	topics, err := Expand(pattern)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range topics {
		if _, ok := g.subs[name]; ok {
			continue
		}
		t, err := g.joinLocked(name)
		if err != nil {
			return err
		}
		sub, err := t.Subscribe()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		g.subs[name] = sub
		go g.readLoop(name, sub, g.host.ID())
	}
	return nil
}

// Unsubscribe implements Transport.
func (g *GossipTransport) Unsubscribe(pattern string) error {
	topics, err := Expand(pattern)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range topics {
		if sub, ok := g.subs[name]; ok {
			sub.Cancel()
			delete(g.subs, name)
		}
	}
	return nil
}

func (g *GossipTransport) joinLocked(name string) (*pubsub.Topic, error) {
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

// Publish implements Transport.
func (g *GossipTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if g.pubsub == nil {
		return fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}
	g.mu.Lock()
	t, err := g.joinLocked(topic)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, payload); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransportUnavailable, topic, err)
	}
	log.Push.Trace().Str("topic", topic).Uint8("qos", qos).Bool("retained", retained).Msg("Published")
	return nil
}

func (g *GossipTransport) readLoop(topic string, sub *pubsub.Subscription, self peer.ID) {
	ctx := g.ctx
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // Cancelled.
		}
		if msg.ReceivedFrom == self {
			continue
		}
		g.handle(topic, msg)
	}
}

func (g *GossipTransport) handle(topic string, msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Push.Error().Interface("panic", r).Str("topic", topic).Msg("Message handler panicked")
		}
	}()
	g.mu.Lock()
	fn := g.onMessage
	g.mu.Unlock()
	if fn != nil {
		fn(topic, msg.Data)
	}
}

// SetMessageHandler implements Transport.
func (g *GossipTransport) SetMessageHandler(fn MessageHandler) {
	g.mu.Lock()
	g.onMessage = fn
	g.mu.Unlock()
}

// SetConnectionHandler implements Transport.
func (g *GossipTransport) SetConnectionHandler(fn ConnectionHandler) {
	g.mu.Lock()
	g.onConn = fn
	g.mu.Unlock()
}

// PeerCount returns the number of connected peers.
func (g *GossipTransport) PeerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}

// Addrs returns the full multiaddrs of this transport's host.
func (g *GossipTransport) Addrs() []string {
	if g.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range g.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, g.host.ID()))
	}
	return addrs
}

// addPeer records p and reports whether it is the first connected peer.
func (g *GossipTransport) addPeer(id peer.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.peers[id]; ok {
		return false
	}
	g.peers[id] = struct{}{}
	return len(g.peers) == 1
}

// removePeer drops p and reports whether no peer remains.
func (g *GossipTransport) removePeer(id peer.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.peers[id]; !ok {
		return false
	}
	delete(g.peers, id)
	return len(g.peers) == 0
}

func (g *GossipTransport) connectionChanged(connected bool) {
	g.mu.Lock()
	fn := g.onConn
	g.mu.Unlock()
	if fn != nil {
		go fn(connected)
	}
}

// Close implements Transport.
func (g *GossipTransport) Close() error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	return g.closeLocked()
}

func (g *GossipTransport) closeLocked() error {
	if g.host == nil {
		return nil
	}
	g.cancel()

	g.mu.Lock()
	for name, sub := range g.subs {
		sub.Cancel()
		delete(g.subs, name)
	}
	for name, t := range g.topics {
		t.Close()
		delete(g.topics, name)
	}
	clear(g.peers)
	g.mu.Unlock()

	if g.dht != nil {
		g.dht.Close()
		g.dht = nil
	}

	err := g.host.Close()
	g.host = nil
	g.pubsub = nil
	g.creds = Credentials{}
	return err
}

// connNotifier turns libp2p connection events into connection handler
// calls: connected on the first peer, disconnected when the last one leaves.
type connNotifier struct {
	transport *GossipTransport
}

// Connected is called when a new connection is opened.
func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	if cn.transport.addPeer(conn.RemotePeer()) {
		cn.transport.connectionChanged(true)
	}
}

// Disconnected is called when a connection is closed. The peer is only
// removed once no connection to it remains.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) > 0 {
		return
	}
	if cn.transport.removePeer(remote) {
		cn.transport.connectionChanged(false)
	}
}

// Listen is called when the host starts listening on a new address.
func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose is called when the host stops listening on an address.
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}

// loadOrCreateIdentity keeps the host key in dataDir/push.key so the peer
// ID survives restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "push.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode push key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save push key: %w", err)
	}
	return priv, nil
}
