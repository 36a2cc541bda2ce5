package block

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getcanoe/canoe-sync/pkg/types"
)

// blockJSON is the wire form of a block. Fields that do not apply to the
// block kind are omitted.
type blockJSON struct {
	Type           string        `json:"type"`
	Account        types.Account `json:"account"`
	Previous       string        `json:"previous,omitempty"`
	Source         string        `json:"source,omitempty"`
	Destination    string        `json:"destination,omitempty"`
	Representative string        `json:"representative,omitempty"`
	Balance        types.Amount  `json:"balance"`
	Amount         *types.Amount `json:"amount,omitempty"`
	Work           string        `json:"work,omitempty"`
	Signature      string        `json:"signature,omitempty"`
}

// MarshalJSON encodes the block in its wire form.
func (b Block) MarshalJSON() ([]byte, error) {
	j := blockJSON{
		Type:    b.Kind.String(),
		Account: b.Account,
		Balance: b.Balance,
	}
	if b.Kind != KindOpen {
		j.Previous = b.Previous.String()
	}
	if b.Kind == KindOpen || b.Kind == KindReceive {
		j.Source = b.Source.String()
	}
	if b.Kind == KindSend {
		j.Destination = b.Destination.String()
	}
	if b.Kind == KindOpen || b.Kind == KindChange {
		j.Representative = b.Representative.String()
	}
	if !b.Amount.IsZero() {
		amt := b.Amount
		j.Amount = &amt
	}
	if b.HasWork() {
		j.Work = b.Work.String()
	}
	if len(b.Signature) > 0 {
		j.Signature = strings.ToUpper(hex.EncodeToString(b.Signature))
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a block from its wire form.
func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	kind, err := ParseKind(j.Type)
	if err != nil {
		return err
	}

	out := Block{Kind: kind, Account: j.Account, Balance: j.Balance}
	if j.Amount != nil {
		out.Amount = *j.Amount
	}
	if j.Previous != "" {
		if out.Previous, err = types.HexToHash(j.Previous); err != nil {
			return fmt.Errorf("previous: %w", err)
		}
	}
	if j.Source != "" {
		if out.Source, err = types.HexToHash(j.Source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if j.Destination != "" {
		if out.Destination, err = types.ParseAccount(j.Destination); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
	}
	if j.Representative != "" {
		if out.Representative, err = types.ParseAccount(j.Representative); err != nil {
			return fmt.Errorf("representative: %w", err)
		}
	}
	if out.Work, err = types.ParseWork(j.Work); err != nil {
		return err
	}
	if j.Signature != "" {
		if out.Signature, err = hex.DecodeString(j.Signature); err != nil {
			return fmt.Errorf("signature: %w", err)
		}
	}
	*b = out
	return nil
}

// ParseJSON decodes and structurally validates a block from its JSON contents,
// the form ledger nodes return inside blocks_info and push notifications.
func ParseJSON(contents string) (Block, error) {
	var b Block
	if err := json.Unmarshal([]byte(contents), &b); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// JSON returns the wire encoding as a string, the form submitted with process.
func (b *Block) JSON() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
