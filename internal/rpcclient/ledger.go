package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// HistoryEntry is one block summary of an account history.
type HistoryEntry struct {
	Hash    types.Hash    `json:"hash"`
	Type    string        `json:"type"`
	Account types.Account `json:"account"`
	Amount  types.Amount  `json:"amount"`
}

// BlockInfo is the node's view of a block.
type BlockInfo struct {
	BlockAccount types.Account `json:"block_account"`
	Amount       types.Amount  `json:"amount"`
	Contents     string        `json:"contents"`
}

// Block decodes the contents, attaching the reported amount and account.
func (bi BlockInfo) Block() (block.Block, error) {
	blk, err := block.ParseJSON(bi.Contents)
	if err != nil {
		return block.Block{}, err
	}
	blk.Amount = bi.Amount
	if blk.Account.IsZero() {
		blk.Account = bi.BlockAccount
	}
	return blk, nil
}

// ServerStatus is the free-form status document of a canoe server.
type ServerStatus map[string]interface{}

// optional decodes a field the node sends as "" when it has no entries.
func optional(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == `""` || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// AccountHistory returns the account's blocks, newest first.
func (c *Client) AccountHistory(ctx context.Context, account types.Account) ([]HistoryEntry, error) {
	var reply struct {
		History json.RawMessage `json:"history"`
	}
	params := map[string]interface{}{
		"account": account.String(),
		"count":   "-1",
	}
	if err := c.Call(ctx, "account_history", params, &reply); err != nil {
		return nil, err
	}
	var history []HistoryEntry
	if err := optional(reply.History, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return history, nil
}

// BlocksInfo fetches the contents of hashes in one request.
func (c *Client) BlocksInfo(ctx context.Context, hashes []types.Hash) (map[types.Hash]BlockInfo, error) {
	if len(hashes) == 0 {
		return map[types.Hash]BlockInfo{}, nil
	}
	var reply struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	params := map[string]interface{}{"hashes": hashStrings(hashes)}
	if err := c.Call(ctx, "blocks_info", params, &reply); err != nil {
		return nil, err
	}
	blocks := make(map[types.Hash]BlockInfo, len(hashes))
	if err := optional(reply.Blocks, &blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	return blocks, nil
}

// AccountsPending returns the unreceived send hashes of each account.
func (c *Client) AccountsPending(ctx context.Context, accounts []types.Account) (map[types.Account][]types.Hash, error) {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.String()
	}
	var reply struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	params := map[string]interface{}{
		"accounts": ids,
		"count":    "-1",
	}
	if err := c.Call(ctx, "accounts_pending", params, &reply); err != nil {
		return nil, err
	}

	raw := make(map[types.Account]json.RawMessage)
	if err := optional(reply.Blocks, &raw); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	pending := make(map[types.Account][]types.Hash, len(raw))
	for acc, list := range raw {
		var hashes []types.Hash
		if err := optional(list, &hashes); err != nil {
			return nil, fmt.Errorf("decode pending for %s: %w", acc, err)
		}
		if len(hashes) > 0 {
			pending[acc] = hashes
		}
	}
	return pending, nil
}

// Process submits a block. It returns the hash the node accepted.
func (c *Client) Process(ctx context.Context, blockJSON string) (types.Hash, error) {
	var reply struct {
		Hash types.Hash `json:"hash"`
	}
	if err := c.Call(ctx, "process", map[string]interface{}{"block": blockJSON}, &reply); err != nil {
		return types.Hash{}, err
	}
	return reply.Hash, nil
}

// WorkGenerate asks the node to compute work for hash.
func (c *Client) WorkGenerate(ctx context.Context, hash types.Hash) (types.Work, error) {
	var reply struct {
		Work string `json:"work"`
	}
	if err := c.Call(ctx, "work_generate", map[string]interface{}{"hash": hash.String()}, &reply); err != nil {
		return 0, err
	}
	w, err := types.ParseWork(reply.Work)
	if err != nil {
		return 0, err
	}
	if w.IsZero() {
		return 0, &RPCError{Action: "work_generate", Message: "empty work"}
	}
	return w, nil
}

// AccountValidate asks the node whether addr is a valid account.
func (c *Client) AccountValidate(ctx context.Context, addr string) (bool, error) {
	var reply struct {
		Valid string `json:"valid"`
	}
	if err := c.Call(ctx, "account_validate", map[string]interface{}{"account": addr}, &reply); err != nil {
		return false, err
	}
	valid, err := strconv.Atoi(reply.Valid)
	if err != nil {
		return false, fmt.Errorf("decode valid flag %q: %w", reply.Valid, err)
	}
	return valid == 1, nil
}

// CreateServerAccount registers the wallet's push credentials with the server.
func (c *Client) CreateServerAccount(ctx context.Context, id, token, tokenPass string) error {
	params := map[string]interface{}{
		"wallet":    id,
		"token":     token,
		"tokenPass": tokenPass,
	}
	return c.Call(ctx, "create_server_account", params, nil)
}

// ServerStatus fetches the server status document.
func (c *Client) ServerStatus(ctx context.Context) (ServerStatus, error) {
	var status ServerStatus
	if err := c.Call(ctx, "canoe_server_status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func hashStrings(hashes []types.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
