package wallet

import (
	"context"
	"sync"
)

// Handle is the single writer for a wallet. Every mutation from the
// scheduler, the broadcaster, the reconciler, push deliveries and callers
// runs inside Do, one at a time and to completion.
type Handle struct {
	mu sync.Mutex
	w  *Wallet
}

// NewHandle returns a handle with no wallet attached.
func NewHandle() *Handle {
	return &Handle{}
}

// Attach installs w as the active wallet and returns the previous one.
func (h *Handle) Attach(w *Wallet) *Wallet {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.w
	h.w = w
	return prev
}

// Detach removes the active wallet.
func (h *Handle) Detach() *Wallet {
	return h.Attach(nil)
}

// Attached reports whether a wallet is active.
func (h *Handle) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w != nil
}

// Do runs fn with exclusive access to the active wallet. It returns
// ErrNoWallet when none is attached and ctx.Err() if ctx is done once the
// writer is acquired. fn must not block on I/O.
func (h *Handle) Do(ctx context.Context, fn func(w *Wallet) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.w == nil {
		return ErrNoWallet
	}
	return fn(h.w)
}
