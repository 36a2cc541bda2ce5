package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/rs/zerolog"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/metrics"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// DefaultDedupeTTL is how long a delivered notification is remembered.
const DefaultDedupeTTL = 10 * time.Minute

// Persister accepts wallet snapshots for storage.
type Persister interface {
	Enqueue(req wallet.SaveRequest)
}

// Waker is poked when new blocks need work.
type Waker interface {
	Wake()
}

// Router decodes notifications and applies them to the wallet.
type Router struct {
	handle *wallet.Handle
	saver  Persister
	waker  Waker
	seen   *ttlcache.Cache
}

// NewRouter creates a router. saver and waker may be nil.
func NewRouter(handle *wallet.Handle, saver Persister, waker Waker, ttl time.Duration) (*Router, error) {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	seen := ttlcache.NewCache()
	seen.SkipTTLExtensionOnHit(true)
	if err := seen.SetTTL(ttl); err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	return &Router{handle: handle, saver: saver, waker: waker, seen: seen}, nil
}

// Close releases the dedupe cache.
func (r *Router) Close() error {
	return r.seen.Close()
}

// Route decodes and dispatches one notification. Duplicates within the
// dedupe window are dropped silently.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) error {
	msg, err := Decode(topic, payload)
	if err != nil {
		metrics.NotificationResult("invalid", err)
		return err
	}
	if key := msg.Key(); key != "" {
		if _, err := r.seen.Get(key); err == nil {
			log.Ingest.Debug().Str("key", key).Msg("Duplicate notification dropped")
			return nil
		} else if !errors.Is(err, ttlcache.ErrNotFound) {
			return err
		}
	}

	kind, err := r.dispatch(ctx, msg)
	metrics.NotificationResult(kind, err)
	if err != nil {
		return err
	}
	if key := msg.Key(); key != "" {
		_ = r.seen.Set(key, struct{}{})
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, msg Message) (string, error) {
	switch m := msg.(type) {
	case SendMessage:
		if err := r.checkWallet(ctx, m.WalletID); err != nil {
			return "send", err
		}
		if err := m.Block.Verify(); err != nil {
			return "send", fmt.Errorf("%w: send %s: %v", ErrRouting, m.Hash, err)
		}
		_, err := r.HandleIncomingSend(ctx, m.Hash, m.Block.Destination, m.From, m.Amount)
		return "send", err
	case OpenMessage:
		// Open, receive and change blocks can only originate from this
		// wallet, so their echoes are ignored.
		logEcho(log.Ingest.Debug(), m.BlockNotice, "open")
		return "open", nil
	case ReceiveMessage:
		logEcho(log.Ingest.Debug(), m.BlockNotice, "receive")
		return "receive", nil
	case ChangeMessage:
		logEcho(log.Ingest.Debug(), m.BlockNotice, "change")
		return "change", nil
	case AccountsMessage:
		log.Ingest.Debug().Str("wallet", m.WalletID).Int("accounts", len(m.Accounts)).Msg("Account map echo ignored")
		return "accounts", nil
	case BroadcastMessage:
		log.Ingest.Debug().Str("account", m.Account.String()).Str("hash", m.Block.Hash().String()).Msg("Broadcast notice ignored")
		return "broadcast", nil
	case UnknownMessage:
		return "unknown", fmt.Errorf("%w: unknown block type %q", ErrRouting, m.Kind)
	default:
		return "unknown", fmt.Errorf("%w: %T", ErrRouting, msg)
	}
}

func logEcho(ev *zerolog.Event, n BlockNotice, kind string) {
	ev.Str("kind", kind).Str("hash", n.Hash.String()).Msg("Own block echo ignored")
}

// checkWallet rejects notifications addressed to another wallet.
func (r *Router) checkWallet(ctx context.Context, id string) error {
	return r.handle.Do(ctx, func(w *wallet.Wallet) error {
		if w.ID() != id {
			return fmt.Errorf("%w: wallet %q is not attached", ErrRouting, id)
		}
		return nil
	})
}

// HandleIncomingSend creates the block receiving send into account. It is
// idempotent: a send already claimed yields false and no new block.
func (r *Router) HandleIncomingSend(ctx context.Context, send types.Hash, account, from types.Account, amount types.Amount) (bool, error) {
	var created bool
	var req wallet.SaveRequest
	err := r.handle.Do(ctx, func(w *wallet.Wallet) error {
		var err error
		created, err = w.AddPendingReceive(send, account, amount)
		if err != nil || !created {
			return err
		}
		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		log.Ingest.Warn().Err(err).Str("hash", send.String()).Msg("Incoming send not applied")
		return false, err
	}
	if !created {
		return false, nil
	}

	log.Ingest.Info().
		Str("hash", send.String()).
		Str("from", from.String()).
		Str("to", account.String()).
		Str("amount", amount.String()).
		Msg("Incoming send claimed")
	if r.saver != nil {
		r.saver.Enqueue(req)
	}
	if r.waker != nil {
		r.waker.Wake()
	}
	return true, nil
}
