package push

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"wallet/w1/block/#", "wallet/w1/block/send", true},
		{"wallet/w1/block/#", "wallet/w2/block/send", false},
		{"wallet/w1/block/#", "wallet/w1/accounts", false},
		{"wallet/+/accounts", "wallet/w1/accounts", true},
		{"broadcast/xrb_1", "broadcast/xrb_1", true},
		{"broadcast/xrb_1", "broadcast/xrb_1/extra", false},
		{"#", "anything/at/all", true},
		{"wallet/#/block", "wallet/w1/block", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestExpand(t *testing.T) {
	topics, err := Expand(WalletBlockPattern("w1"))
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(topics) != len(BlockKinds) {
		t.Fatalf("got %d topics, want %d", len(topics), len(BlockKinds))
	}
	for i, k := range BlockKinds {
		if topics[i] != WalletBlockTopic("w1", k) {
			t.Errorf("topic %d = %q", i, topics[i])
		}
	}

	if got, _ := Expand("broadcast/xrb_1"); len(got) != 1 || got[0] != "broadcast/xrb_1" {
		t.Errorf("exact topic expanded to %v", got)
	}
	for _, bad := range []string{"wallet/+/accounts", "wallet/#", "#"} {
		if _, err := Expand(bad); !errors.Is(err, ErrBadPattern) {
			t.Errorf("Expand(%q) = %v, want ErrBadPattern", bad, err)
		}
	}
}

func TestMemoryTransport_Delivery(t *testing.T) {
	broker := NewMemoryBroker()
	server := broker.NewTransport()
	client := broker.NewTransport()
	ctx := context.Background()

	if err := client.Publish(ctx, "x", nil, QoSAtMostOnce, false); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("publish before connect = %v", err)
	}

	var got []string
	client.SetMessageHandler(func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	})
	if err := client.Connect(ctx, Credentials{WalletID: "w1", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if err := server.Connect(ctx, Credentials{}); err != nil {
		t.Fatal(err)
	}
	if err := client.Subscribe(WalletBlockPattern("w1")); err != nil {
		t.Fatal(err)
	}

	_ = server.Publish(ctx, WalletBlockTopic("w1", "send"), []byte("a"), QoSExactlyOnce, false)
	_ = server.Publish(ctx, WalletBlockTopic("w2", "send"), []byte("b"), QoSExactlyOnce, false)
	_ = server.Publish(ctx, WalletAccountsTopic("w1"), []byte("c"), QoSExactlyOnce, false)

	if len(got) != 1 || got[0] != "wallet/w1/block/send=a" {
		t.Errorf("deliveries = %v", got)
	}
	if len(server.Published()) != 3 {
		t.Errorf("published = %d, want 3", len(server.Published()))
	}
	if client.Credentials().WalletID != "w1" {
		t.Error("credentials not recorded")
	}
}

func TestMemoryTransport_ConnectionEvents(t *testing.T) {
	tr := NewMemoryBroker().NewTransport()
	var events []bool
	tr.SetConnectionHandler(func(c bool) { events = append(events, c) })

	_ = tr.Connect(context.Background(), Credentials{})
	tr.Drop()
	tr.Drop()
	tr.Restore()

	want := []bool{true, false, true}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func startGossip(t *testing.T, brokers []string, creds Credentials) *GossipTransport {
	t.Helper()
	g, err := NewGossipTransport(GossipConfig{ListenAddr: "127.0.0.1", Port: 0, Brokers: brokers})
	if err != nil {
		t.Fatalf("NewGossipTransport: %v", err)
	}
	if err := g.Connect(context.Background(), creds); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGossipTransport_BadBroker(t *testing.T) {
	if _, err := NewGossipTransport(GossipConfig{Brokers: []string{"not-a-multiaddr"}}); err == nil {
		t.Error("expected error for malformed broker address")
	}
}

func TestGossipTransport_NotConnected(t *testing.T) {
	g, _ := NewGossipTransport(GossipConfig{})
	if err := g.Subscribe("a"); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Subscribe = %v", err)
	}
	if err := g.Publish(context.Background(), "a", nil, 0, false); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Publish = %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close before Connect: %v", err)
	}
}

func TestGossipTransport_CredentialIdentity(t *testing.T) {
	creds := Credentials{WalletID: "w1", Token: "tok", TokenPass: "pass"}
	g, _ := NewGossipTransport(GossipConfig{})
	a, err := g.identity(creds)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := g.identity(creds)
	if !a.Equals(b) {
		t.Error("identity from the same credentials should be stable")
	}
	c, _ := g.identity(Credentials{WalletID: "w2", Token: "tok", TokenPass: "pass"})
	if a.Equals(c) {
		t.Error("different wallets should get different identities")
	}
}

func TestGossipTransport_Delivery(t *testing.T) {
	broker := startGossip(t, nil, Credentials{})

	var connected atomic.Bool
	var mu sync.Mutex
	var received []string
	broker.SetMessageHandler(func(topic string, payload []byte) {
		mu.Lock()
		received = append(received, topic)
		mu.Unlock()
	})
	if err := broker.Subscribe(WalletBlockPattern("w1")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	client, err := NewGossipTransport(GossipConfig{ListenAddr: "127.0.0.1", Brokers: broker.Addrs()[:1]})
	if err != nil {
		t.Fatal(err)
	}
	client.SetConnectionHandler(func(c bool) { connected.Store(c) })
	if err := client.Connect(context.Background(), Credentials{WalletID: "w1", Token: "tok"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// Give GossipSub time to exchange subscriptions.
	time.Sleep(300 * time.Millisecond)

	deadline := time.After(5 * time.Second)
	for {
		_ = client.Publish(context.Background(), WalletBlockTopic("w1", "send"), []byte("{}"), QoSExactlyOnce, false)
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for gossip delivery")
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0] != WalletBlockTopic("w1", "send") {
		t.Errorf("topic = %q", received[0])
	}
	if !connected.Load() {
		t.Error("connection handler not told about the broker")
	}
	if client.PeerCount() != 1 {
		t.Errorf("client peers = %d, want 1", client.PeerCount())
	}
}

func TestGossipTransport_ReconnectOnNewCredentials(t *testing.T) {
	first := Credentials{WalletID: "w1", Token: "tok", TokenPass: "pass"}
	g := startGossip(t, nil, first)
	if err := g.Subscribe(WalletBlockPattern("w1")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	oldID := g.host.ID()

	if err := g.Connect(context.Background(), first); err != nil {
		t.Fatalf("Connect with same credentials: %v", err)
	}
	if g.host.ID() != oldID {
		t.Fatal("same credentials should keep the running host")
	}

	second := Credentials{WalletID: "w2", Token: "tok2", TokenPass: "pass"}
	if err := g.Connect(context.Background(), second); err != nil {
		t.Fatalf("Connect with new credentials: %v", err)
	}
	want, err := g.identity(second)
	if err != nil {
		t.Fatal(err)
	}
	wantID, err := peer.IDFromPrivateKey(want)
	if err != nil {
		t.Fatal(err)
	}
	if g.host.ID() != wantID {
		t.Errorf("peer ID = %s, want identity of new credentials %s", g.host.ID(), wantID)
	}
	g.mu.Lock()
	subs := len(g.subs)
	g.mu.Unlock()
	if subs != 0 {
		t.Errorf("subscriptions after restart = %d, want 0", subs)
	}
}

func randomPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestGossipTransport_BareBrokerStartsDHT(t *testing.T) {
	broker := startGossip(t, nil, Credentials{})
	addressed := broker.Addrs()[0]

	direct := startGossip(t, []string{addressed}, Credentials{WalletID: "w1", Token: "tok"})
	if direct.dht != nil {
		t.Error("DHT started although every broker has an address")
	}

	bare := "/p2p/" + randomPeerID(t).String()
	client := startGossip(t, []string{addressed, bare}, Credentials{WalletID: "w2", Token: "tok"})
	if client.dht == nil {
		t.Fatal("DHT not started for a broker without address")
	}
	if len(client.brokers[1].Addrs) != 0 {
		t.Fatalf("bare broker parsed with addresses %v", client.brokers[1].Addrs)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.dht != nil {
		t.Error("DHT not released on Close")
	}
}

func TestGossipTransport_ResolveBroker(t *testing.T) {
	g, err := NewGossipTransport(GossipConfig{})
	if err != nil {
		t.Fatal(err)
	}
	id := randomPeerID(t)
	addr, _ := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")

	got, err := g.resolveBroker(context.Background(), peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{addr}})
	if err != nil || len(got.Addrs) != 1 {
		t.Errorf("addressed broker: %v, %v", got, err)
	}
	if _, err := g.resolveBroker(context.Background(), peer.AddrInfo{ID: id}); err == nil {
		t.Error("expected error resolving a bare broker without DHT")
	}
}
