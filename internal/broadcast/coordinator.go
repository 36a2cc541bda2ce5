// Package broadcast submits ready blocks to the ledger node and confirms
// the ones it accepts.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/metrics"
	"github.com/getcanoe/canoe-sync/internal/push"
	"github.com/getcanoe/canoe-sync/internal/readyqueue"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Defaults for Config fields left zero.
const (
	DefaultRetryInterval = 15 * time.Second
	DefaultMaxBackoff    = 10 * time.Minute
	DefaultTimeout       = 10 * time.Second
)

// ErrHashMismatch is returned when the node acknowledges a different block.
var ErrHashMismatch = errors.New("node returned a different block hash")

// Submitter hands a block to the ledger node.
type Submitter interface {
	Process(ctx context.Context, contents string) (types.Hash, error)
}

// Persister accepts wallet snapshots for storage.
type Persister interface {
	Enqueue(req wallet.SaveRequest)
}

// Publisher announces confirmed blocks to other clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Config tunes the coordinator.
type Config struct {
	RetryInterval time.Duration // ticker period and backoff base
	MaxBackoff    time.Duration
	Timeout       time.Duration // per submission
}

// Summary reports the outcome of one pass over the ready queue.
type Summary struct {
	Submitted int
	Confirmed int
	Failed    int
	Deferred  int // still backing off
	Skipped   bool
}

// Coordinator drains the ready queue into the ledger node.
type Coordinator struct {
	handle *wallet.Handle
	node   Submitter
	saver  Persister
	cfg    Config

	mu  sync.Mutex
	pub Publisher

	trigger chan struct{}
	force   atomic.Bool
	now     func() time.Time
}

// New creates a coordinator. saver may be nil.
func New(handle *wallet.Handle, node Submitter, saver Persister, cfg Config) *Coordinator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxBackoff < cfg.RetryInterval {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{
		handle:  handle,
		node:    node,
		saver:   saver,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetPublisher sets where confirmed blocks are announced. nil disables it.
func (c *Coordinator) SetPublisher(p Publisher) {
	c.mu.Lock()
	c.pub = p
	c.mu.Unlock()
}

// Trigger requests a pass. Blocks still backing off are left alone.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// RetryNow requests a pass that submits every ready block regardless of
// backoff.
func (c *Coordinator) RetryNow() {
	c.force.Store(true)
	c.Trigger()
}

// Run submits ready blocks on every trigger and retry tick until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.trigger:
		}
		if _, err := c.Pass(ctx, c.force.Swap(false)); err != nil && !errors.Is(err, context.Canceled) {
			log.Broadcast.Warn().Err(err).Msg("Broadcast pass failed")
		}
	}
}

// Backoff returns how long to wait after the given number of failed attempts.
func (c *Coordinator) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := c.cfg.RetryInterval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return d
}

// Pass submits the due ready blocks once. With force set, backoff is ignored.
func (c *Coordinator) Pass(ctx context.Context, force bool) (Summary, error) {
	var sum Summary
	var ready []readyqueue.ReadyBlock
	err := c.handle.Do(ctx, func(w *wallet.Wallet) error {
		if !w.BroadcastEnabled() {
			sum.Skipped = true
			return nil
		}
		ready = w.ReadyBlocks()
		return nil
	})
	if errors.Is(err, wallet.ErrNoWallet) {
		return Summary{Skipped: true}, nil
	}
	if err != nil || sum.Skipped || len(ready) == 0 {
		return sum, err
	}

	now := c.now()
	var confirmed []block.Block
	var failed []types.Hash
	for _, rb := range ready {
		if !force && rb.Attempts > 0 && now.Before(rb.LastAttempt.Add(c.Backoff(rb.Attempts))) {
			sum.Deferred++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		sum.Submitted++
		if err := c.submit(ctx, rb.Block); err != nil {
			log.Broadcast.Warn().Err(err).
				Str("hash", rb.Hash().String()).
				Int("attempts", rb.Attempts+1).
				Msg("Block not accepted, will retry")
			failed = append(failed, rb.Hash())
			continue
		}
		confirmed = append(confirmed, rb.Block)
	}
	sum.Confirmed = len(confirmed)
	sum.Failed = len(failed)
	if sum.Submitted == 0 {
		return sum, nil
	}

	var req wallet.SaveRequest
	saved := false
	err = c.handle.Do(context.WithoutCancel(ctx), func(w *wallet.Wallet) error {
		at := c.now()
		for _, h := range failed {
			w.MarkAttempt(h, at)
		}
		for i := range confirmed {
			w.ConfirmReady(confirmed[i].Hash())
		}
		var err error
		req, err = w.SaveRequest()
		saved = err == nil
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("record broadcast results: %w", err)
	}
	if saved && c.saver != nil {
		c.saver.Enqueue(req)
	}

	for i := range confirmed {
		c.publish(ctx, confirmed[i])
	}
	if sum.Confirmed > 0 {
		log.Broadcast.Info().Int("confirmed", sum.Confirmed).Int("failed", sum.Failed).Msg("Blocks broadcast")
	}
	return sum, nil
}

// submit sends one block and checks the acknowledged hash.
func (c *Coordinator) submit(ctx context.Context, blk block.Block) error {
	contents, err := blk.JSON()
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	got, err := c.node.Process(cctx, contents)
	if err == nil && got != blk.Hash() {
		err = fmt.Errorf("%w: sent %s, got %s", ErrHashMismatch, blk.Hash(), got)
	}
	metrics.BroadcastResult(err)
	return err
}

// broadcastNotice is the payload announced on broadcast/{account}.
type broadcastNotice struct {
	Account types.Account `json:"account"`
	Block   block.Block   `json:"block"`
}

func (c *Coordinator) publish(ctx context.Context, blk block.Block) {
	c.mu.Lock()
	pub := c.pub
	c.mu.Unlock()
	if pub == nil {
		return
	}
	payload, err := json.Marshal(broadcastNotice{Account: blk.Account, Block: blk})
	if err != nil {
		return
	}
	topic := push.BroadcastTopic(blk.Account.String())
	if err := pub.Publish(ctx, topic, payload, push.QoSAtLeastOnce, false); err != nil {
		log.Broadcast.Debug().Err(err).Str("topic", topic).Msg("Broadcast announcement not published")
	}
}
