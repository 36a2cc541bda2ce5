package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getcanoe/canoe-sync/internal/push"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/crypto"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// fakeNode accepts blocks unless told otherwise.
type fakeNode struct {
	mu       sync.Mutex
	calls    int
	err      error
	override *types.Hash
}

func (n *fakeNode) Process(_ context.Context, contents string) (types.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return types.Hash{}, n.err
	}
	if n.override != nil {
		return *n.override, nil
	}
	blk, err := block.ParseJSON(contents)
	if err != nil {
		return types.Hash{}, err
	}
	return blk.Hash(), nil
}

func (n *fakeNode) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *fakeNode) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type saveCounter struct {
	mu sync.Mutex
	n  int
}

func (s *saveCounter) Enqueue(wallet.SaveRequest) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

type fixture struct {
	handle *wallet.Handle
	node   *fakeNode
	saves  *saveCounter
	coord  *Coordinator
	ready  types.Hash
}

// newFixture builds a wallet holding one open block ready to broadcast.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	w, err := wallet.Create("", []byte("pw"), wallet.Options{
		ID:     "w1",
		Params: wallet.EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1},
	})
	require.NoError(t, err)
	id, err := w.CreateAccount("main")
	require.NoError(t, err)
	_, err = w.AddPendingReceive(crypto.Hash([]byte("src")), id, types.NewAmount(10))
	require.NoError(t, err)
	h, ok := w.NextNeededWork()
	require.True(t, ok)
	require.NoError(t, w.CompleteWork(h, types.Work(1)))

	handle := wallet.NewHandle()
	handle.Attach(w)
	node := &fakeNode{}
	saves := &saveCounter{}
	coord := New(handle, node, saves, Config{RetryInterval: time.Minute, MaxBackoff: 8 * time.Minute})
	return &fixture{handle: handle, node: node, saves: saves, coord: coord, ready: h}
}

func (f *fixture) status(t *testing.T) wallet.Status {
	t.Helper()
	var st wallet.Status
	require.NoError(t, f.handle.Do(context.Background(), func(w *wallet.Wallet) error {
		st = w.Status()
		return nil
	}))
	return st
}

func TestPass_ConfirmsAcceptedBlock(t *testing.T) {
	f := newFixture(t)
	broker := push.NewMemoryBroker()
	tr := broker.NewTransport()
	require.NoError(t, tr.Connect(context.Background(), push.Credentials{WalletID: "w1"}))
	f.coord.SetPublisher(tr)

	sum, err := f.coord.Pass(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Confirmed)

	st := f.status(t)
	assert.Equal(t, 0, st.ReadyToBroadcast)
	assert.Equal(t, 0, st.PendingWork)
	assert.Equal(t, 0, st.PendingReceives)
	assert.Equal(t, 1, f.saves.n)

	pub := tr.Published()
	require.Len(t, pub, 1)
	var notice struct {
		Account types.Account `json:"account"`
		Block   block.Block   `json:"block"`
	}
	require.NoError(t, json.Unmarshal(pub[0].Payload, &notice))
	assert.Equal(t, f.ready, notice.Block.Hash())
	assert.Equal(t, push.BroadcastTopic(notice.Account.String()), pub[0].Topic)
}

func TestPass_HashMismatchKeepsBlock(t *testing.T) {
	f := newFixture(t)
	other := crypto.Hash([]byte("other"))
	f.node.override = &other

	sum, err := f.coord.Pass(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Confirmed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, f.status(t).ReadyToBroadcast)
}

func TestPass_BackoffAndForce(t *testing.T) {
	f := newFixture(t)
	f.node.setErr(errors.New("node down"))
	ctx := context.Background()

	_, err := f.coord.Pass(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.node.callCount())

	// Still inside the backoff window.
	sum, err := f.coord.Pass(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deferred)
	assert.Equal(t, 1, f.node.callCount())

	// Past it.
	f.coord.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = f.coord.Pass(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.node.callCount())

	// Forced passes ignore backoff.
	f.coord.now = time.Now
	f.node.setErr(nil)
	sum, err = f.coord.Pass(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Confirmed)
	assert.Equal(t, 3, f.node.callCount())
	assert.Equal(t, 0, f.status(t).ReadyToBroadcast)
}

func TestPass_SkippedWhileDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handle.Do(context.Background(), func(w *wallet.Wallet) error {
		w.SetBroadcastEnabled(false)
		return nil
	}))

	sum, err := f.coord.Pass(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
	assert.Equal(t, 0, f.node.callCount())
	assert.Equal(t, 1, f.status(t).ReadyToBroadcast)
}

func TestPass_NoWallet(t *testing.T) {
	c := New(wallet.NewHandle(), &fakeNode{}, nil, Config{})
	sum, err := c.Pass(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
}

func TestBackoff(t *testing.T) {
	c := New(wallet.NewHandle(), &fakeNode{}, nil, Config{RetryInterval: time.Second, MaxBackoff: 5 * time.Second})
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRun_Trigger(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.Run(ctx)
		close(done)
	}()

	f.coord.Trigger()
	assert.Eventually(t, func() bool {
		return f.status(t).ReadyToBroadcast == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
