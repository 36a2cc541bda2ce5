package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/storage"
)

// ErrNoSnapshot is returned by a SnapshotStore that holds no wallet.
var ErrNoSnapshot = errors.New("no stored wallet")

// SnapshotStore persists sealed wallet blobs.
type SnapshotStore interface {
	Store(sealed []byte) error
	Load() ([]byte, error)
}

// DBStore keeps the sealed wallet in its own namespace of a shared DB. The
// previous blob is kept as a backup and both are written in one batch.
type DBStore struct {
	db   *storage.PrefixDB
	lock sync.Mutex
}

var (
	currentKey  = []byte("current")
	previousKey = []byte("previous")
)

// NewDBStore returns a store for the wallet named name.
func NewDBStore(db storage.DB, name string) *DBStore {
	return &DBStore{db: storage.NewPrefixDB(db, []byte("wallet/"+name+"/"))}
}

// Store writes sealed, moving the current blob to the backup key.
func (s *DBStore) Store(sealed []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	prev, err := s.db.Get(currentKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read wallet: %w", err)
	}

	batch := s.db.NewBatch()
	if prev != nil {
		if err := batch.Put(previousKey, prev); err != nil {
			return fmt.Errorf("backup wallet: %w", err)
		}
	}
	if err := batch.Put(currentKey, sealed); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return batch.Commit()
}

// Load returns the current sealed blob.
func (s *DBStore) Load() ([]byte, error) {
	return s.get(currentKey)
}

// LoadPrevious returns the blob the last Store replaced.
func (s *DBStore) LoadPrevious() ([]byte, error) {
	return s.get(previousKey)
}

func (s *DBStore) get(key []byte) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	return data, nil
}

// Saver seals and stores wallet snapshots off the writer. Only the most
// recent pending request is kept; older ones are superseded.
type Saver struct {
	store SnapshotStore

	// writeMu orders seal+store; written is the newest stored sequence.
	writeMu sync.Mutex
	written uint64

	mu      sync.Mutex
	pending *SaveRequest
	wake    chan struct{}

	saved  int
	failed int
}

// NewSaver creates a saver writing to store.
func NewSaver(store SnapshotStore) *Saver {
	return &Saver{
		store: store,
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue schedules req for persistence, replacing any unsaved request.
func (s *Saver) Enqueue(req SaveRequest) {
	s.mu.Lock()
	if s.pending == nil || s.pending.seq < req.seq {
		s.pending = &req
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SaveNow seals and stores req synchronously. A request captured before
// the last stored one is skipped.
func (s *Saver) SaveNow(req SaveRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if req.seq <= s.written {
		log.Wallet.Debug().Uint64("seq", req.seq).Msg("Skipping stale wallet snapshot")
		return nil
	}

	sealed, err := req.Seal()
	if err != nil {
		return fmt.Errorf("seal wallet: %w", err)
	}
	if err := s.store.Store(sealed); err != nil {
		return err
	}
	s.written = req.seq
	return nil
}

// saveSeq numbers save requests in capture order across all wallets.
var saveSeq atomic.Uint64

// Run persists enqueued snapshots until ctx is cancelled, then flushes the
// last pending one.
func (s *Saver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case <-s.wake:
			s.flush()
		}
	}
}

// Flush persists the pending request, if any.
func (s *Saver) Flush() error {
	return s.flush()
}

func (s *Saver) flush() error {
	s.mu.Lock()
	req := s.pending
	s.pending = nil
	s.mu.Unlock()
	if req == nil {
		return nil
	}

	err := s.SaveNow(*req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		log.Wallet.Error().Err(err).Msg("Failed to persist wallet")
		return err
	}
	s.saved++
	log.Wallet.Debug().Int("saved", s.saved).Msg("Wallet persisted")
	return nil
}

// Stats returns the number of successful and failed writes.
func (s *Saver) Stats() (saved, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, s.failed
}
