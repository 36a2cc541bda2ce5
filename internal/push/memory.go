package push

import (
	"context"
	"fmt"
	"sync"
)

// Message is a published notification.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MemoryBroker connects MemoryTransports in one process.
type MemoryBroker struct {
	mu      sync.Mutex
	clients []*MemoryTransport
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// NewTransport returns a transport attached to the broker.
func (b *MemoryBroker) NewTransport() *MemoryTransport {
	t := &MemoryTransport{broker: b, subs: make(map[string]struct{})}
	b.mu.Lock()
	b.clients = append(b.clients, t)
	b.mu.Unlock()
	return t
}

func (b *MemoryBroker) deliver(msg Message) {
	b.mu.Lock()
	clients := append([]*MemoryTransport(nil), b.clients...)
	b.mu.Unlock()
	for _, c := range clients {
		c.receive(msg)
	}
}

// MemoryTransport is an in-process Transport. Deliveries are synchronous.
type MemoryTransport struct {
	broker *MemoryBroker

	mu        sync.Mutex
	connected bool
	closed    bool
	creds     Credentials
	subs      map[string]struct{}
	published []Message
	onMessage MessageHandler
	onConn    ConnectionHandler
}

// Connect implements Transport.
func (t *MemoryTransport) Connect(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrTransportUnavailable)
	}
	t.connected = true
	t.creds = creds
	fn := t.onConn
	t.mu.Unlock()

	if fn != nil {
		fn(true)
	}
	return nil
}

// Subscribe implements Transport.
func (t *MemoryTransport) Subscribe(pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}
	t.subs[pattern] = struct{}{}
	return nil
}

// Unsubscribe implements Transport.
func (t *MemoryTransport) Unsubscribe(pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, pattern)
	return nil
}

// Publish implements Transport.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos, Retained: retained}

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}
	t.published = append(t.published, msg)
	t.mu.Unlock()

	t.broker.deliver(msg)
	return nil
}

func (t *MemoryTransport) receive(msg Message) {
	t.mu.Lock()
	fn := t.onMessage
	matched := false
	if t.connected {
		for p := range t.subs {
			if Match(p, msg.Topic) {
				matched = true
				break
			}
		}
	}
	t.mu.Unlock()

	if matched && fn != nil {
		fn(msg.Topic, msg.Payload)
	}
}

// SetMessageHandler implements Transport.
func (t *MemoryTransport) SetMessageHandler(fn MessageHandler) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// SetConnectionHandler implements Transport.
func (t *MemoryTransport) SetConnectionHandler(fn ConnectionHandler) {
	t.mu.Lock()
	t.onConn = fn
	t.mu.Unlock()
}

// Drop simulates losing the servers.
func (t *MemoryTransport) Drop() {
	t.setConnected(false)
}

// Restore simulates a reconnection after Drop.
func (t *MemoryTransport) Restore() {
	t.setConnected(true)
}

func (t *MemoryTransport) setConnected(v bool) {
	t.mu.Lock()
	changed := t.connected != v && !t.closed
	if changed {
		t.connected = v
	}
	fn := t.onConn
	t.mu.Unlock()
	if changed && fn != nil {
		fn(v)
	}
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

// Credentials returns the credentials given to Connect.
func (t *MemoryTransport) Credentials() Credentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds
}

// Subscriptions returns the active patterns.
func (t *MemoryTransport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for p := range t.subs {
		out = append(out, p)
	}
	return out
}

// Published returns every message sent through this transport.
func (t *MemoryTransport) Published() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}
