package block

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrUnknownKind        = errors.New("unknown block kind")
	ErrZeroAccount        = errors.New("block has zero account")
	ErrOpenHasPrevious    = errors.New("open block must not have previous")
	ErrMissingPrevious    = errors.New("block is missing previous")
	ErrMissingSource      = errors.New("block is missing source")
	ErrMissingDestination = errors.New("send block is missing destination")
	ErrMissingRep         = errors.New("block is missing representative")
	ErrMissingSignature   = errors.New("block is not signed")
	ErrBadSignature       = errors.New("block signature invalid")
	ErrWrongSigner        = errors.New("signer does not own block account")
)

// Validate checks the fields required by the block kind.
// It does not check the signature (use Verify) or chain linkage.
func (b *Block) Validate() error {
	if b.Account.IsZero() {
		return ErrZeroAccount
	}

	switch b.Kind {
	case KindOpen:
		if !b.Previous.IsZero() {
			return ErrOpenHasPrevious
		}
		if b.Source.IsZero() {
			return fmt.Errorf("open: %w", ErrMissingSource)
		}
		if b.Representative.IsZero() {
			return fmt.Errorf("open: %w", ErrMissingRep)
		}
	case KindSend:
		if b.Previous.IsZero() {
			return fmt.Errorf("send: %w", ErrMissingPrevious)
		}
		if b.Destination.IsZero() {
			return ErrMissingDestination
		}
	case KindReceive:
		if b.Previous.IsZero() {
			return fmt.Errorf("receive: %w", ErrMissingPrevious)
		}
		if b.Source.IsZero() {
			return fmt.Errorf("receive: %w", ErrMissingSource)
		}
	case KindChange:
		if b.Previous.IsZero() {
			return fmt.Errorf("change: %w", ErrMissingPrevious)
		}
		if b.Representative.IsZero() {
			return fmt.Errorf("change: %w", ErrMissingRep)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, b.Kind)
	}
	return nil
}
