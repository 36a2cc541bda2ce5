// Package node wires the wallet sync core into a runnable daemon that can be
// embedded in any binary.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/getcanoe/canoe-sync/config"
	"github.com/getcanoe/canoe-sync/internal/broadcast"
	"github.com/getcanoe/canoe-sync/internal/ingest"
	klog "github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/metrics"
	"github.com/getcanoe/canoe-sync/internal/pow"
	"github.com/getcanoe/canoe-sync/internal/push"
	"github.com/getcanoe/canoe-sync/internal/reconcile"
	"github.com/getcanoe/canoe-sync/internal/rpcclient"
	"github.com/getcanoe/canoe-sync/internal/storage"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// statusInterval is how often queue sizes are exported as metrics.
const statusInterval = 10 * time.Second

// ErrWalletExists is returned when creating over a stored wallet.
var ErrWalletExists = errors.New("a wallet is already stored under this name")

// Option customizes a Node.
type Option func(*options)

type options struct {
	transport push.Transport
	params    *wallet.EncryptionParams
	db        storage.DB
	skipLog   bool
}

// WithTransport replaces the configured push transport.
func WithTransport(t push.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithEncryptionParams sets the key derivation cost for new wallets.
func WithEncryptionParams(p wallet.EncryptionParams) Option {
	return func(o *options) { o.params = &p }
}

// WithDB replaces the configured snapshot database.
func WithDB(db storage.DB) Option {
	return func(o *options) { o.db = db }
}

// WithoutLogInit keeps the current global logger.
func WithoutLogInit() Option {
	return func(o *options) { o.skipLog = true }
}

// CreatedWallet describes a freshly created wallet.
type CreatedWallet struct {
	ID       string
	Account  types.Account
	Mnemonic string
}

// Node is a fully initialized wallet sync daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger
	params wallet.EncryptionParams

	// Persistence
	db     storage.DB
	store  *wallet.DBStore
	saver  *wallet.Saver
	handle *wallet.Handle

	// Ledger node
	rpc *rpcclient.Client

	// Sync
	scheduler  *pow.Scheduler
	coord      *broadcast.Coordinator
	reconciler *reconcile.Reconciler
	router     *ingest.Router
	transport  push.Transport

	metricsSrv *metrics.Server

	resync chan struct{}

	// Lifecycle
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates and initializes a Node. It opens storage and builds every
// component but does NOT start background goroutines. Call Start() for that.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// ── 1. Logger ───────────────────────────────────────────────────
	if !o.skipLog {
		logFile := cfg.Log.File
		if logFile == "" {
			logsDir := expandHome(cfg.LogsDir())
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				return nil, fmt.Errorf("creating logs dir: %w", err)
			}
			logFile = logsDir + "/canoe.log"
		}
		if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("node", cfg.Node.URL).
		Str("pow", cfg.PoW.Mode).
		Msg("Starting Canoe sync daemon")

	// ── 2. Storage ──────────────────────────────────────────────────
	db := o.db
	if db == nil {
		var err error
		db, err = openStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("open wallet storage: %w", err)
		}
		logger.Info().Str("backend", cfg.Wallet.Storage).Msg("Wallet storage opened")
	}
	store := wallet.NewDBStore(db, cfg.Wallet.Name)
	saver := wallet.NewSaver(store)
	handle := wallet.NewHandle()

	// ── 3. Ledger node client and PoW ───────────────────────────────
	rpc := rpcclient.NewWithTimeout(cfg.Node.URL, cfg.Node.Timeout)
	solver, err := newSolver(cfg.PoW, rpc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create pow solver: %w", err)
	}
	scheduler := pow.NewScheduler(handle, solver, cfg.PoW.Interval)

	// ── 4. Broadcast, reconcile, ingest ─────────────────────────────
	coord := broadcast.New(handle, rpc, saver, broadcast.Config{
		RetryInterval: cfg.Broadcast.Retry,
		MaxBackoff:    cfg.Broadcast.MaxBackoff,
		Timeout:       cfg.Node.Timeout,
	})
	reconciler := reconcile.New(handle, rpc, saver)
	router, err := ingest.NewRouter(handle, saver, scheduler, 0)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}

	// ── 5. Push transport ───────────────────────────────────────────
	transport := o.transport
	if transport == nil && cfg.Push.Enabled {
		gt, err := push.NewGossipTransport(push.GossipConfig{
			ListenAddr: cfg.Push.ListenAddr,
			Port:       cfg.Push.Port,
			Brokers:    cfg.Push.Brokers,
			DataDir:    expandHome(cfg.PushDir()),
		})
		if err != nil {
			router.Close()
			db.Close()
			return nil, fmt.Errorf("create push transport: %w", err)
		}
		transport = gt
	}
	if transport == nil {
		logger.Warn().Msg("Push disabled; incoming sends are only found by reconciliation")
	}

	params := wallet.DefaultParams()
	if o.params != nil {
		params = *o.params
	}

	n := &Node{
		cfg:        cfg,
		logger:     logger,
		params:     params,
		db:         db,
		store:      store,
		saver:      saver,
		handle:     handle,
		rpc:        rpc,
		scheduler:  scheduler,
		coord:      coord,
		reconciler: reconciler,
		router:     router,
		transport:  transport,
		resync:     make(chan struct{}, 1),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if transport != nil {
		coord.SetPublisher(transport)
		transport.SetMessageHandler(n.onMessage)
		transport.SetConnectionHandler(n.onConnection)
	}
	if cfg.Metrics.Enabled {
		n.metricsSrv = metrics.NewServer(cfg.Metrics.Addr)
	}

	return n, nil
}

// Start launches background goroutines: saver, PoW scheduler, broadcast
// coordinator, resync loop and the metrics endpoint.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	if n.metricsSrv != nil {
		if err := n.metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics at %s: %w", n.cfg.Metrics.Addr, err)
		}
	}

	n.spawn(n.saver.Run)
	n.spawn(n.scheduler.Run)
	n.spawn(n.coord.Run)
	n.spawn(n.runSyncLoop)
	n.started = true

	// An attached wallet may have missed sends while the daemon was down.
	n.requestSync()

	n.logger.Info().
		Bool("push", n.transport != nil).
		Bool("metrics", n.metricsSrv != nil).
		Msg("Node started successfully")
	return nil
}

func (n *Node) spawn(fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn(n.ctx)
	}()
}

// Stop performs graceful shutdown in reverse order. Pending snapshots are
// flushed before storage is closed.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if err := n.saver.Flush(); err != nil {
		n.logger.Error().Err(err).Msg("Final wallet save failed")
	}
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Push transport close failed")
		}
	}
	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = n.metricsSrv.Stop(ctx)
		cancel()
	}
	n.router.Close()
	if w := n.handle.Detach(); w != nil {
		w.SetReadyHook(nil)
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// MetricsAddr returns the address the metrics server is listening on.
func (n *Node) MetricsAddr() string {
	if n.metricsSrv == nil {
		return ""
	}
	return n.metricsSrv.Addr()
}

// ── Wallet lifecycle ────────────────────────────────────────────────

// CreateWallet creates a wallet with one account, registers it with the
// server and stores it. An empty seed generates a fresh one.
func (n *Node) CreateWallet(ctx context.Context, password []byte, seedHex string) (CreatedWallet, error) {
	if _, err := n.store.Load(); err == nil {
		return CreatedWallet{}, fmt.Errorf("%w: %s", ErrWalletExists, n.cfg.Wallet.Name)
	} else if !errors.Is(err, wallet.ErrNoSnapshot) {
		return CreatedWallet{}, err
	}

	opts := wallet.Options{Params: n.params}
	opts.ID, opts.Token, opts.TokenPass = newCredentials()
	if n.cfg.Wallet.Representative != "" {
		rep, err := types.ParseAccount(n.cfg.Wallet.Representative)
		if err != nil {
			return CreatedWallet{}, fmt.Errorf("representative: %w", err)
		}
		opts.Representative = rep
	}

	w, err := wallet.Create(seedHex, password, opts)
	if err != nil {
		return CreatedWallet{}, err
	}
	account, err := w.CreateAccount("Default")
	if err != nil {
		return CreatedWallet{}, err
	}
	mnemonic, err := w.Mnemonic()
	if err != nil {
		return CreatedWallet{}, err
	}

	if err := n.rpc.CreateServerAccount(ctx, opts.ID, opts.Token, opts.TokenPass); err != nil {
		n.logger.Warn().Err(err).Str("wallet", opts.ID).Msg("Server account registration failed")
	}

	req, err := w.SaveRequest()
	if err != nil {
		return CreatedWallet{}, err
	}
	if err := n.saver.SaveNow(req); err != nil {
		return CreatedWallet{}, fmt.Errorf("store wallet: %w", err)
	}

	wlog := klog.WithWallet(opts.ID)
	wlog.Info().Str("account", account.String()).Msg("Wallet created")
	n.attach(ctx, w)
	return CreatedWallet{ID: opts.ID, Account: account, Mnemonic: mnemonic}, nil
}

// LoadWallet opens the stored wallet with password and attaches it.
func (n *Node) LoadWallet(ctx context.Context, password []byte) error {
	data, err := n.store.Load()
	if err != nil {
		return err
	}
	w, err := wallet.Open(data, password, n.params)
	if err != nil {
		// A torn write leaves the previous snapshot intact. A wrong
		// password fails on both and reports the original error.
		prev, perr := n.store.LoadPrevious()
		if perr != nil {
			return err
		}
		if w, perr = wallet.Open(prev, password, n.params); perr != nil {
			return err
		}
		n.logger.Warn().Err(err).Msg("Current wallet snapshot unreadable, loaded backup")
	}
	wlog := klog.WithWallet(w.ID())
	wlog.Info().Int("accounts", len(w.AccountIDs())).Msg("Wallet loaded")
	n.attach(ctx, w)
	return nil
}

// ReloadWallet replaces the attached wallet state with the stored copy,
// decrypted with the current password.
func (n *Node) ReloadWallet(ctx context.Context) error {
	data, err := n.store.Load()
	if err != nil {
		return err
	}
	if err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		return w.Load(data)
	}); err != nil {
		return err
	}
	n.scheduler.Wake()
	n.coord.Trigger()
	return nil
}

// attach makes w the active wallet and connects it to the push servers.
func (n *Node) attach(ctx context.Context, w *wallet.Wallet) {
	w.SetReadyHook(n.coord.Trigger)
	if prev := n.handle.Attach(w); prev != nil {
		prev.SetReadyHook(nil)
		if n.transport != nil && prev.ID() != w.ID() {
			_ = n.transport.Unsubscribe(push.WalletBlockPattern(prev.ID()))
		}
	}
	n.scheduler.Wake()
	n.coord.Trigger()

	if err := n.connectPush(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Push connection failed, relying on reconciliation")
		n.requestSync()
	}
}

// connectPush authenticates with the wallet credentials, subscribes to the
// wallet's block topics and announces its accounts.
func (n *Node) connectPush(ctx context.Context) error {
	if n.transport == nil {
		return nil
	}
	var creds push.Credentials
	if err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		creds.WalletID, creds.Token, creds.TokenPass = w.Credentials()
		return nil
	}); err != nil {
		return err
	}

	if err := n.transport.Connect(ctx, creds); err != nil {
		return err
	}
	if err := n.transport.Subscribe(push.WalletBlockPattern(creds.WalletID)); err != nil {
		return err
	}
	return n.publishAccounts(ctx)
}

// publishAccounts announces the wallet's account list so the push server
// knows which sends to forward.
func (n *Node) publishAccounts(ctx context.Context) error {
	if n.transport == nil {
		return nil
	}
	var id string
	var accounts []types.Account
	if err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		id = w.ID()
		accounts = w.AccountIDs()
		return nil
	}); err != nil {
		return err
	}
	payload, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	if err := n.transport.Publish(ctx, push.WalletAccountsTopic(id), payload, push.QoSExactlyOnce, false); err != nil {
		klog.Push.Warn().Err(err).Str("wallet", id).Msg("Account map not published")
		return err
	}
	return nil
}

// ── Wallet operations ───────────────────────────────────────────────

// Send creates a send block and queues it for work and broadcast.
func (n *Node) Send(ctx context.Context, from, dest types.Account, amount types.Amount) (types.Hash, error) {
	var hash types.Hash
	var req wallet.SaveRequest
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		blk, err := w.Send(from, dest, amount)
		if err != nil {
			return err
		}
		hash = blk.Hash()
		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		return types.Hash{}, err
	}
	n.saver.Enqueue(req)
	n.scheduler.Wake()
	n.logger.Info().
		Str("hash", hash.String()).
		Str("from", from.String()).
		Str("to", dest.String()).
		Str("amount", amount.String()).
		Msg("Send created")
	return hash, nil
}

// ChangeRepresentative creates a change block for the account.
func (n *Node) ChangeRepresentative(ctx context.Context, id, rep types.Account) (types.Hash, error) {
	var hash types.Hash
	var req wallet.SaveRequest
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		blk, err := w.ChangeRepresentative(id, rep)
		if err != nil {
			return err
		}
		hash = blk.Hash()
		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		return types.Hash{}, err
	}
	n.saver.Enqueue(req)
	n.scheduler.Wake()
	return hash, nil
}

// CreateAccount derives the next account and announces the new account map.
func (n *Node) CreateAccount(ctx context.Context, label string) (types.Account, error) {
	var id types.Account
	var req wallet.SaveRequest
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		var err error
		if id, err = w.CreateAccount(label); err != nil {
			return err
		}
		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		return types.Account{}, err
	}
	n.saver.Enqueue(req)
	n.announceAccounts(ctx)
	return id, nil
}

// RemoveAccount drops the account with its queued work and announces the
// new account map.
func (n *Node) RemoveAccount(ctx context.Context, id types.Account) error {
	var req wallet.SaveRequest
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		if err := w.RemoveAccount(id); err != nil {
			return err
		}
		var err error
		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		return err
	}
	n.saver.Enqueue(req)
	n.announceAccounts(ctx)
	return nil
}

// announceAccounts publishes the account map when push is connected. A
// failure is logged; the next connection publishes it again.
func (n *Node) announceAccounts(ctx context.Context) {
	if err := n.publishAccounts(ctx); err != nil && !errors.Is(err, push.ErrTransportUnavailable) {
		n.logger.Debug().Err(err).Msg("Account map announcement failed")
	}
}

// ReconcileAll resynchronizes every account against the ledger node.
func (n *Node) ReconcileAll(ctx context.Context) ([]reconcile.Result, error) {
	return n.reconciler.ReconcileAll(ctx)
}

// FetchPending claims every unreceived send the ledger node reports.
func (n *Node) FetchPending(ctx context.Context) (int, error) {
	return n.reconciler.FetchPending(ctx, n.router)
}

// OnIncomingNotification routes one push notification into the wallet.
func (n *Node) OnIncomingNotification(topic string, payload []byte) error {
	return n.router.Route(n.ctx, topic, payload)
}

// Status reports the wallet queue sizes.
func (n *Node) Status(ctx context.Context) (wallet.Status, error) {
	var st wallet.Status
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		st = w.Status()
		return nil
	})
	if err == nil {
		metrics.ObserveStatus(st)
	}
	return st, err
}

// Accounts lists the wallet's accounts with their balances.
func (n *Node) Accounts(ctx context.Context) (map[types.Account]types.Amount, error) {
	out := make(map[types.Account]types.Amount)
	err := n.handle.Do(ctx, func(w *wallet.Wallet) error {
		for _, id := range w.AccountIDs() {
			bal, err := w.Ledger().Balance(id)
			if err != nil {
				return err
			}
			out[id] = bal
		}
		return nil
	})
	return out, err
}

// IsValidAccount checks addr locally and then with the ledger node. A
// malformed address never reaches the node.
func (n *Node) IsValidAccount(ctx context.Context, addr string) (bool, error) {
	if err := types.ValidateAddress(addr); err != nil {
		return false, nil
	}
	return n.rpc.AccountValidate(ctx, addr)
}

// ServerStatus returns the ledger node's status document.
func (n *Node) ServerStatus(ctx context.Context) (rpcclient.ServerStatus, error) {
	return n.rpc.ServerStatus(ctx)
}

// RetryBroadcast resubmits every ready block now, ignoring backoff.
func (n *Node) RetryBroadcast() {
	n.coord.RetryNow()
}

// ── Push events ─────────────────────────────────────────────────────

func (n *Node) onMessage(topic string, payload []byte) {
	if err := n.OnIncomingNotification(topic, payload); err != nil {
		klog.Ingest.Warn().Err(err).Str("topic", topic).Msg("Notification dropped")
	}
}

func (n *Node) onConnection(connected bool) {
	if !connected {
		klog.Push.Warn().Msg("Push servers lost")
		return
	}
	klog.Push.Info().Msg("Push servers connected")
	n.requestSync()
}

// ── Resync ──────────────────────────────────────────────────────────

// requestSync asks the sync loop for a reconcile, pending fetch and forced
// broadcast.
func (n *Node) requestSync() {
	select {
	case n.resync <- struct{}{}:
	default:
	}
}

func (n *Node) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = n.Status(ctx)
		case <-n.resync:
			n.Resync(ctx)
		}
	}
}

// Resync reconciles all accounts, claims pending sends and retries the
// broadcast of every ready block.
func (n *Node) Resync(ctx context.Context) {
	if !n.handle.Attached() {
		return
	}
	results, err := n.ReconcileAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Warn().Err(err).Msg("Reconciliation incomplete")
	}
	created, err := n.FetchPending(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Warn().Err(err).Msg("Pending fetch incomplete")
	}
	n.coord.RetryNow()
	n.scheduler.Wake()
	n.logger.Info().Int("accounts", len(results)).Int("claimed", created).Msg("Resync finished")
}
