package dispatch

import (
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"mailpace/internal/account"
	"mailpace/internal/model"
	"mailpace/internal/testutil"
)

func TestCountRecordsSendThatLostTheQuotaRace(t *testing.T) {
	store := newFakeStore()
	d, env := newDispatcherForTest(t, store, nil)
	ctx := testutil.Context(t, 5*time.Second)

	meter, err := account.ForServer(env.backend, store, serverForTest(1, 1), env.clock.Now)
	if err != nil {
		t.Fatalf("server meter: %v", err)
	}
	if ok, err := meter.CountUsage(ctx, epoch); err != nil || !ok {
		t.Fatalf("first count = %v, %v", ok, err)
	}

	w := &worker{d: d, run: &run{}, index: 1, log: zaptest.NewLogger(t)}
	if err := w.count(ctx, meter, epoch); err != nil {
		t.Fatalf("count: %v", err)
	}
	used, err := meter.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 2 {
		t.Fatalf("usage = %d, want the late send recorded", used)
	}
	if got := promtest.ToFloat64(env.metrics.UsageRaces); got != 1 {
		t.Fatalf("usage races = %v, want 1", got)
	}
	if meter.Owner() != model.OwnerServer {
		t.Fatalf("owner = %s", meter.Owner())
	}
}
