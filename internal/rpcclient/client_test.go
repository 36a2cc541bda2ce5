package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/crypto"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// fakeNode answers actions from a handler table.
func fakeNode(t *testing.T, handlers map[string]func(req map[string]interface{}) interface{}) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		action, _ := req["action"].(string)
		h, ok := handlers[action]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unknown command"})
			return
		}
		_ = json.NewEncoder(w).Encode(h(req))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func signedOpen(t *testing.T) (block.Block, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	blk := block.Block{
		Kind:           block.KindOpen,
		Account:        key.Account(),
		Source:         crypto.Hash([]byte("source")),
		Representative: key.Account(),
		Balance:        types.NewAmount(1000),
	}
	if err := blk.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return blk, key
}

func TestCall_RPCError(t *testing.T) {
	c := fakeNode(t, nil)
	err := c.Call(context.Background(), "bogus", nil, nil)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Message != "Unknown command" || rpcErr.Action != "bogus" {
		t.Errorf("rpc error = %+v", rpcErr)
	}
}

func TestCall_TransportUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewWithTimeout(url, time.Second)
	_, err := c.WorkGenerate(context.Background(), crypto.Hash([]byte("x")))
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("got %v, want ErrTransportUnavailable", err)
	}
}

func TestCall_ServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL).Call(context.Background(), "process", nil, nil)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("got %v, want ErrTransportUnavailable", err)
	}
}

func TestAccountHistory(t *testing.T) {
	blk, key := signedOpen(t)
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"account_history": func(req map[string]interface{}) interface{} {
			if req["account"] != key.Account().String() {
				return map[string]string{"error": "Bad account"}
			}
			return map[string]interface{}{
				"history": []map[string]string{{
					"hash":    blk.Hash().String(),
					"type":    "open",
					"account": key.Account().String(),
					"amount":  "1000",
				}},
			}
		},
	})

	hist, err := c.AccountHistory(context.Background(), key.Account())
	if err != nil {
		t.Fatalf("AccountHistory() error: %v", err)
	}
	if len(hist) != 1 || hist[0].Hash != blk.Hash() {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].Amount.Cmp(types.NewAmount(1000)) != 0 {
		t.Errorf("amount = %s", hist[0].Amount)
	}
}

func TestAccountHistory_EmptyString(t *testing.T) {
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"account_history": func(map[string]interface{}) interface{} {
			return map[string]string{"history": ""}
		},
	})
	_, key := signedOpen(t)
	hist, err := c.AccountHistory(context.Background(), key.Account())
	if err != nil {
		t.Fatalf("AccountHistory() error: %v", err)
	}
	if len(hist) != 0 {
		t.Errorf("history = %v, want empty", hist)
	}
}

func TestBlocksInfo(t *testing.T) {
	blk, key := signedOpen(t)
	contents, err := blk.JSON()
	if err != nil {
		t.Fatal(err)
	}
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"blocks_info": func(req map[string]interface{}) interface{} {
			return map[string]interface{}{
				"blocks": map[string]interface{}{
					blk.Hash().String(): map[string]string{
						"block_account": key.Account().String(),
						"amount":        "1000",
						"contents":      contents,
					},
				},
			}
		},
	})

	infos, err := c.BlocksInfo(context.Background(), []types.Hash{blk.Hash()})
	if err != nil {
		t.Fatalf("BlocksInfo() error: %v", err)
	}
	info, ok := infos[blk.Hash()]
	if !ok {
		t.Fatal("block missing from reply")
	}
	got, err := info.Block()
	if err != nil {
		t.Fatalf("Block() error: %v", err)
	}
	if got.Hash() != blk.Hash() {
		t.Error("decoded block hash differs")
	}
	if got.Amount.Cmp(types.NewAmount(1000)) != 0 {
		t.Errorf("amount = %s", got.Amount)
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}

func TestAccountsPending(t *testing.T) {
	_, key := signedOpen(t)
	_, other := signedOpen(t)
	h := crypto.Hash([]byte("pending"))
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"accounts_pending": func(map[string]interface{}) interface{} {
			return map[string]interface{}{
				"blocks": map[string]interface{}{
					key.Account().String():   []string{h.String()},
					other.Account().String(): "",
				},
			}
		},
	})

	pending, err := c.AccountsPending(context.Background(), []types.Account{key.Account(), other.Account()})
	if err != nil {
		t.Fatalf("AccountsPending() error: %v", err)
	}
	if len(pending) != 1 || len(pending[key.Account()]) != 1 || pending[key.Account()][0] != h {
		t.Errorf("pending = %v", pending)
	}
}

func TestProcessAndWork(t *testing.T) {
	blk, _ := signedOpen(t)
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"process": func(req map[string]interface{}) interface{} {
			parsed, err := block.ParseJSON(req["block"].(string))
			if err != nil {
				return map[string]string{"error": "Block is invalid"}
			}
			return map[string]string{"hash": parsed.Hash().String()}
		},
		"work_generate": func(map[string]interface{}) interface{} {
			return map[string]string{"work": "2bf29ef00786a6bc"}
		},
	})

	contents, _ := blk.JSON()
	hash, err := c.Process(context.Background(), contents)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if hash != blk.Hash() {
		t.Errorf("Process() hash = %s, want %s", hash, blk.Hash())
	}

	if _, err := c.Process(context.Background(), "{}"); err == nil {
		t.Error("expected error for invalid block")
	}

	w, err := c.WorkGenerate(context.Background(), blk.Hash())
	if err != nil {
		t.Fatalf("WorkGenerate() error: %v", err)
	}
	if w.String() != "2bf29ef00786a6bc" {
		t.Errorf("work = %s", w)
	}
}

func TestAccountValidateAndServerCalls(t *testing.T) {
	var registered map[string]interface{}
	c := fakeNode(t, map[string]func(map[string]interface{}) interface{}{
		"account_validate": func(req map[string]interface{}) interface{} {
			if req["account"] == "xrb_good" {
				return map[string]string{"valid": "1"}
			}
			return map[string]string{"valid": "0"}
		},
		"create_server_account": func(req map[string]interface{}) interface{} {
			registered = req
			return map[string]string{"status": "ok"}
		},
		"canoe_server_status": func(map[string]interface{}) interface{} {
			return map[string]string{"status": "ok"}
		},
	})
	ctx := context.Background()

	if ok, err := c.AccountValidate(ctx, "xrb_good"); err != nil || !ok {
		t.Errorf("AccountValidate(good) = %v, %v", ok, err)
	}
	if ok, err := c.AccountValidate(ctx, "xrb_bad"); err != nil || ok {
		t.Errorf("AccountValidate(bad) = %v, %v", ok, err)
	}

	if err := c.CreateServerAccount(ctx, "w1", "tok", "pass"); err != nil {
		t.Fatalf("CreateServerAccount() error: %v", err)
	}
	if registered["wallet"] != "w1" || registered["tokenPass"] != "pass" {
		t.Errorf("registered = %v", registered)
	}

	status, err := c.ServerStatus(ctx)
	if err != nil {
		t.Fatalf("ServerStatus() error: %v", err)
	}
	if status["status"] != "ok" {
		t.Errorf("status = %v", status)
	}
}
