// Package ingest routes push notifications into the wallet.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// ErrRouting marks a notification that cannot be routed. Such
// notifications are logged and dropped.
var ErrRouting = errors.New("unroutable notification")

// Message is a decoded notification. It is one of SendMessage,
// OpenMessage, ReceiveMessage, ChangeMessage, UnknownMessage,
// AccountsMessage or BroadcastMessage.
type Message interface {
	// Key identifies the notification for duplicate suppression.
	Key() string
}

// BlockNotice is the common part of block notifications.
type BlockNotice struct {
	WalletID string
	Hash     types.Hash
	From     types.Account
	Amount   types.Amount
	Block    block.Block
}

// SendMessage announces a send to one of the wallet's accounts.
type SendMessage struct{ BlockNotice }

// OpenMessage echoes an open block of the wallet.
type OpenMessage struct{ BlockNotice }

// ReceiveMessage echoes a receive block of the wallet.
type ReceiveMessage struct{ BlockNotice }

// ChangeMessage echoes a change block of the wallet.
type ChangeMessage struct{ BlockNotice }

// UnknownMessage is a block notification of an unrecognized kind.
type UnknownMessage struct {
	WalletID string
	Kind     string
}

// AccountsMessage is the wallet's own account map echoed back.
type AccountsMessage struct {
	WalletID string
	Accounts []types.Account
}

// BroadcastMessage is a block another client confirmed for an account.
type BroadcastMessage struct {
	Account types.Account
	Block   block.Block
}

// Key implements Message.
func (m SendMessage) Key() string { return "send:" + m.Hash.String() }

// Key implements Message.
func (m OpenMessage) Key() string { return "open:" + m.Hash.String() }

// Key implements Message.
func (m ReceiveMessage) Key() string { return "receive:" + m.Hash.String() }

// Key implements Message.
func (m ChangeMessage) Key() string { return "change:" + m.Hash.String() }

// Key implements Message.
func (m UnknownMessage) Key() string { return "" }

// Key implements Message.
func (m AccountsMessage) Key() string { return "" }

// Key implements Message.
func (m BroadcastMessage) Key() string {
	return "broadcast:" + m.Block.Hash().String()
}

// blockPayload is the wire form of a block notification.
type blockPayload struct {
	Account types.Account `json:"account"`
	Hash    types.Hash    `json:"hash"`
	Block   string        `json:"block"`
	Amount  types.Amount  `json:"amount"`
}

// Decode parses a notification by topic. Topics are
// wallet/{id}/block/{kind}, wallet/{id}/accounts and broadcast/{account}.
func Decode(topic string, payload []byte) (Message, error) {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 4 && parts[0] == "wallet" && parts[2] == "block":
		return decodeBlock(parts[1], parts[3], payload)
	case len(parts) == 3 && parts[0] == "wallet" && parts[2] == "accounts":
		var accounts []types.Account
		if err := json.Unmarshal(payload, &accounts); err != nil {
			return nil, fmt.Errorf("%w: accounts payload: %v", ErrRouting, err)
		}
		return AccountsMessage{WalletID: parts[1], Accounts: accounts}, nil
	case len(parts) == 2 && parts[0] == "broadcast":
		account, err := types.ParseAccount(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRouting, err)
		}
		var p struct {
			Account types.Account `json:"account"`
			Block   block.Block   `json:"block"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: broadcast payload: %v", ErrRouting, err)
		}
		if err := p.Block.Validate(); err != nil {
			return nil, fmt.Errorf("%w: broadcast block: %v", ErrRouting, err)
		}
		return BroadcastMessage{Account: account, Block: p.Block}, nil
	default:
		return nil, fmt.Errorf("%w: topic %q", ErrRouting, topic)
	}
}

func decodeBlock(walletID, kind string, payload []byte) (Message, error) {
	k, err := block.ParseKind(kind)
	if err != nil {
		return UnknownMessage{WalletID: walletID, Kind: kind}, nil
	}

	var p blockPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrRouting, kind, err)
	}
	blk, err := block.ParseJSON(p.Block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s block: %v", ErrRouting, kind, err)
	}
	if blk.Kind != k {
		return nil, fmt.Errorf("%w: topic kind %s, block kind %s", ErrRouting, k, blk.Kind)
	}
	if blk.Hash() != p.Hash {
		return nil, fmt.Errorf("%w: hash %s does not match block %s", ErrRouting, p.Hash, blk.Hash())
	}
	blk.Amount = p.Amount

	notice := BlockNotice{
		WalletID: walletID,
		Hash:     p.Hash,
		From:     p.Account,
		Amount:   p.Amount,
		Block:    blk,
	}
	switch k {
	case block.KindSend:
		return SendMessage{notice}, nil
	case block.KindOpen:
		return OpenMessage{notice}, nil
	case block.KindReceive:
		return ReceiveMessage{notice}, nil
	default:
		return ChangeMessage{notice}, nil
	}
}
