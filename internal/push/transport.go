// Package push delivers wallet notifications between the sync core and the
// push servers.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Push errors.
var (
	ErrTransportUnavailable = errors.New("push transport unavailable")
	ErrBadPattern           = errors.New("unsupported topic pattern")
)

// Delivery guarantees requested on publish.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2
)

// BlockKinds are the per-kind suffixes of wallet block topics.
var BlockKinds = []string{"open", "send", "receive", "change"}

// Credentials identify the wallet to the push servers.
type Credentials struct {
	WalletID  string
	Token     string
	TokenPass string
}

// MessageHandler receives deliveries on subscribed topics.
type MessageHandler func(topic string, payload []byte)

// ConnectionHandler is told when the transport gains or loses its servers.
type ConnectionHandler func(connected bool)

// Transport is a topic based publish/subscribe connection.
type Transport interface {
	Connect(ctx context.Context, creds Credentials) error
	Subscribe(pattern string) error
	Unsubscribe(pattern string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	SetMessageHandler(fn MessageHandler)
	SetConnectionHandler(fn ConnectionHandler)
	Close() error
}

// WalletBlockTopic returns the topic of a block notification for a wallet.
func WalletBlockTopic(walletID, kind string) string {
	return "wallet/" + walletID + "/block/" + kind
}

// WalletBlockPattern matches every block notification for a wallet.
func WalletBlockPattern(walletID string) string {
	return "wallet/" + walletID + "/block/#"
}

// WalletAccountsTopic carries the wallet's account map.
func WalletAccountsTopic(walletID string) string {
	return "wallet/" + walletID + "/accounts"
}

// BroadcastTopic carries blocks confirmed for an account.
func BroadcastTopic(account string) string {
	return "broadcast/" + account
}

// Match reports whether topic matches pattern. "+" matches one level and a
// trailing "#" matches any remaining levels.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// Expand turns a pattern into the concrete topics it covers. Only exact
// topics and block patterns ending in "block/#" are supported.
func Expand(pattern string) ([]string, error) {
	if strings.Contains(pattern, "+") {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	if !strings.Contains(pattern, "#") {
		return []string{pattern}, nil
	}
	prefix, ok := strings.CutSuffix(pattern, "/block/#")
	if !ok || strings.Contains(prefix, "#") {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	topics := make([]string, len(BlockKinds))
	for i, k := range BlockKinds {
		topics[i] = prefix + "/block/" + k
	}
	return topics, nil
}
