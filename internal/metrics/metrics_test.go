package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/getcanoe/canoe-sync/internal/wallet"
)

func TestObserveStatus(t *testing.T) {
	ObserveStatus(wallet.Status{Accounts: 2, PendingWork: 3, ReadyToBroadcast: 1, PendingReceives: 4})

	if got := testutil.ToFloat64(pendingWork); got != 3 {
		t.Errorf("pending work = %v, want 3", got)
	}
	if got := testutil.ToFloat64(readyBlocks); got != 1 {
		t.Errorf("ready blocks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pendingReceives); got != 4 {
		t.Errorf("pending receives = %v, want 4", got)
	}
}

func TestResultCounters(t *testing.T) {
	before := testutil.ToFloat64(broadcasts.WithLabelValues("error"))
	BroadcastResult(errors.New("boom"))
	BroadcastResult(nil)
	if got := testutil.ToFloat64(broadcasts.WithLabelValues("error")); got != before+1 {
		t.Errorf("error count = %v, want %v", got, before+1)
	}

	WorkResult("local", nil)
	if got := testutil.ToFloat64(workSolved.WithLabelValues("local", "ok")); got < 1 {
		t.Errorf("work ok count = %v", got)
	}
}

func TestServer_ServesMetrics(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop(context.Background())

	ReconcileResult(nil)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "canoe_reconcile_total") {
		t.Error("metrics output missing canoe_reconcile_total")
	}
}
