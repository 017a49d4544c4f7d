package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"mailpace/internal/account"
	"mailpace/internal/model"
	"mailpace/internal/testutil"
)

func TestStartSendsToEveryPendingSubscriber(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(5)...)
	d, env := newDispatcherForTest(t, store, nil)

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Status != model.CampaignDone || result.Sent != 5 || result.Failed != 0 {
		t.Fatalf("result = %+v, want done with 5 sent", result)
	}
	if result.RunID == "" {
		t.Fatalf("expected run id")
	}
	logs := store.trackingLogs()
	if len(logs) != 5 {
		t.Fatalf("tracking logs = %d, want 5", len(logs))
	}
	for _, log := range logs {
		if log.Status != model.DeliverySent || log.MessageID == "" || log.RuntimeMessageID != log.MessageID {
			t.Fatalf("unexpected tracking log %+v", log)
		}
		if log.CustomerID != customerID || log.SendingServerID != 1 {
			t.Fatalf("tracking log attributed to %d/%d", log.CustomerID, log.SendingServerID)
		}
	}
	if c := store.campaign(campaignID); c.Status != model.CampaignDone || !c.DeliveryAt.Equal(epoch) {
		t.Fatalf("campaign = %+v, want done with delivery_at set", c)
	}
	if got := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(model.DeliverySent)); got != 5 {
		t.Fatalf("sent metric = %v, want 5", got)
	}
	if got := promtest.ToFloat64(env.metrics.Campaigns.WithLabelValues(string(model.CampaignDone))); got != 1 {
		t.Fatalf("done campaigns metric = %v, want 1", got)
	}
	if len(env.observer.starts) != 1 || env.observer.starts[0].Recipients != 5 {
		t.Fatalf("observer starts = %+v", env.observer.starts)
	}
	if env.observer.count(EventDelivered) != 5 {
		t.Fatalf("delivered events = %d, want 5", env.observer.count(EventDelivered))
	}
}

func TestStartFlushesUsageSnapshots(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(3)...)
	d, _ := newDispatcherForTest(t, store, nil)

	if _, err := d.Start(testutil.Context(t, 5*time.Second), campaignID); err != nil {
		t.Fatalf("start: %v", err)
	}
	customer, ok := store.savedUsage(model.OwnerCustomer, customerID)
	if !ok || len(customer) != 3 {
		t.Fatalf("customer snapshot = %v (saved %v), want 3 points", customer, ok)
	}
	server, ok := store.savedUsage(model.OwnerServer, 1)
	if !ok || len(server) != 3 {
		t.Fatalf("server snapshot = %v (saved %v), want 3 points", server, ok)
	}
}

func TestStartRequiresReadyCampaign(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(2)...)
	store.setStatus(campaignID, model.CampaignNew)
	d, env := newDispatcherForTest(t, store, nil)

	_, err := d.Start(context.Background(), campaignID)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if got := store.campaign(campaignID).Status; got != model.CampaignNew {
		t.Fatalf("status = %s, want untouched new", got)
	}
	if len(env.sender.sentBy()) != 0 {
		t.Fatalf("sender called for unclaimed campaign")
	}
}

func TestConcurrentStartHasSingleWinner(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(20)...)
	d, env := newDispatcherForTest(t, store, nil)

	const runners = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		notReady int
	)
	testutil.RunWithTimeout(t, 5*time.Second, func() {
		for range runners {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := d.Start(context.Background(), campaignID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, ErrNotReady):
					notReady++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
	})
	if winners != 1 || notReady != runners-1 {
		t.Fatalf("winners = %d, not ready = %d", winners, notReady)
	}
	if got := len(env.sender.sentBy()); got != 20 {
		t.Fatalf("sends = %d, want 20", got)
	}
}

func TestSendFailureIsRecordedAndRunContinues(t *testing.T) {
	store := newFakeStore()
	recipients := emails(3)
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, recipients...)
	d, env := newDispatcherForTest(t, store, nil)
	env.sender.fail = map[string]error{recipients[1]: errors.New("550 mailbox unavailable")}

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Status != model.CampaignDone || result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v, want done with 2 sent and 1 failed", result)
	}
	var failed []model.TrackingLog
	for _, log := range store.trackingLogs() {
		if log.Status == model.DeliveryFailed {
			failed = append(failed, log)
		}
	}
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "550") {
		t.Fatalf("failed logs = %+v", failed)
	}
	if usage, _ := store.savedUsage(model.OwnerCustomer, customerID); len(usage) != 3 {
		t.Fatalf("customer usage = %d points, want failed attempts counted too", len(usage))
	}
}

func TestCustomerQuotaExceededStopsCampaign(t *testing.T) {
	store := newFakeStore()
	plan := unlimitedPlan()
	plan.EmailMax = 3
	seedCampaign(store, plan, []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(5)...)
	d, env := newDispatcherForTest(t, store, nil)

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if result.Status != model.CampaignError || result.Sent != 3 {
		t.Fatalf("result = %+v, want error after 3 sends", result)
	}
	c := store.campaign(campaignID)
	if c.Status != model.CampaignError || !strings.Contains(c.LastError, "sending limit") {
		t.Fatalf("campaign = %s %q", c.Status, c.LastError)
	}
	if got := promtest.ToFloat64(env.metrics.QuotaDenied.WithLabelValues(string(model.OwnerCustomer))); got != 1 {
		t.Fatalf("customer denials = %v, want 1", got)
	}
}

func TestUnsubscribedCustomerFailsCampaign(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(2)...)
	customer := store.customers[customerID]
	customer.Subscription = nil
	store.customers[customerID] = customer
	d, _ := newDispatcherForTest(t, store, nil)

	_, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if !errors.Is(err, account.ErrNotSubscribed) {
		t.Fatalf("err = %v, want ErrNotSubscribed", err)
	}
	if got := store.campaign(campaignID).Status; got != model.CampaignError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestPauseStopsWorkersAtNextCheck(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(10)...)
	d, env := newDispatcherForTest(t, store, func(cfg *Config) {
		cfg.PauseCheckEvery = 2
	})
	env.sender.onSend = func(n int) {
		if n == 3 {
			store.setStatus(campaignID, model.CampaignPaused)
		}
	}

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("pause is not an error: %v", err)
	}
	if result.Status != model.CampaignPaused {
		t.Fatalf("status = %s, want paused", result.Status)
	}
	if got := len(store.trackingLogs()); got != 4 {
		t.Fatalf("tracked = %d, want 4 sends before the next status check", got)
	}

	// Queue again and resume: only the remaining recipients are sent.
	store.setStatus(campaignID, model.CampaignReady)
	result, err = d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Recipients != 6 || result.Status != model.CampaignDone {
		t.Fatalf("resume result = %+v, want 6 recipients done", result)
	}
}

func TestParallelWorkersSplitRecipients(t *testing.T) {
	store := newFakeStore()
	plan := unlimitedPlan()
	plan.MaxProcess = 3
	seedCampaign(store, plan, []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(7)...)
	d, env := newDispatcherForTest(t, store, func(cfg *Config) {
		cfg.WorkerDelay = time.Second
	})

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Workers != 3 || result.Sent != 7 || result.Status != model.CampaignDone {
		t.Fatalf("result = %+v, want 3 workers sending 7", result)
	}
	if got := env.observer.count(EventWorkerStart); got != 3 {
		t.Fatalf("worker starts = %d, want 3", got)
	}
	if got := len(env.clock.Sleeps()); got != 3 {
		t.Fatalf("worker delays = %d, want one per worker", got)
	}
	seen := map[int64]int{}
	for _, log := range store.trackingLogs() {
		seen[log.SubscriberID]++
	}
	if len(seen) != 7 {
		t.Fatalf("distinct recipients = %d, want 7", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("subscriber %d sent %d times", id, n)
		}
	}
}

func TestParallelWorkerFailureStopsSiblingAtPauseCheck(t *testing.T) {
	store := newFakeStore()
	plan := unlimitedPlan()
	plan.MaxProcess = 2
	recipients := emails(8)
	seedCampaign(store, plan, []model.SendingServer{serverForTest(1, 100)}, []int{100}, recipients...)
	d, env := newDispatcherForTest(t, store, func(cfg *Config) {
		cfg.PauseCheckEvery = 2
	})
	// Worker 2 owns recipients 4..7 and panics on its first send. Worker 1
	// holds its second send until the campaign is marked error, so its next
	// status check at recipient 2 sees the failure.
	env.sender.onRecipient = func(to string) {
		switch to {
		case recipients[4]:
			panic("relay refused connection")
		case recipients[1]:
			waitForStatus(store, campaignID, model.CampaignError, 2*time.Second)
		}
	}

	var result Result
	var err error
	testutil.RunWithTimeout(t, 5*time.Second, func() {
		result, err = d.Start(testutil.Context(t, 5*time.Second), campaignID)
	})
	if !errors.Is(err, ErrWorkerAbnormalExit) {
		t.Fatalf("err = %v, want ErrWorkerAbnormalExit", err)
	}
	if !strings.Contains(err.Error(), "worker 2") {
		t.Fatalf("err = %v, want it to name worker 2", err)
	}
	if result.Status != model.CampaignError || result.Workers != 2 {
		t.Fatalf("result = %+v, want error over 2 workers", result)
	}
	if c := store.campaign(campaignID); c.Status != model.CampaignError || !strings.Contains(c.LastError, "relay refused connection") {
		t.Fatalf("campaign = %s %q, want error with the panic", c.Status, c.LastError)
	}

	sent := map[string]bool{}
	for _, log := range store.trackingLogs() {
		for i, email := range recipients {
			if int64(100+i) == log.SubscriberID {
				sent[email] = true
			}
		}
	}
	for _, email := range recipients[2:] {
		if sent[email] {
			t.Fatalf("%s was sent after the sibling failed; tracked %v", email, sent)
		}
	}

	ends := env.observer.workerEnds()
	if len(ends) != 2 {
		t.Fatalf("worker ends = %v, want both workers", ends)
	}
	if ends[1] != "" {
		t.Fatalf("worker 1 ended with %q, want a quiet stop", ends[1])
	}
	if !strings.Contains(ends[2], "relay refused connection") {
		t.Fatalf("worker 2 ended with %q", ends[2])
	}
}

func TestZeroFitnessServerIsNeverPicked(t *testing.T) {
	store := newFakeStore()
	servers := []model.SendingServer{serverForTest(1, 1000), serverForTest(2, 1000)}
	seedCampaign(store, unlimitedPlan(), servers, []int{100, 0}, emails(50)...)
	d, env := newDispatcherForTest(t, store, nil)

	if _, err := d.Start(testutil.Context(t, 5*time.Second), campaignID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range env.sender.sentBy() {
		if id != 1 {
			t.Fatalf("zero-weight server %d picked", id)
		}
	}
}

func TestNoServerAvailable(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{0}, emails(1)...)
	d, _ := newDispatcherForTest(t, store, nil)

	_, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if !errors.Is(err, ErrNoServerAvailable) {
		t.Fatalf("err = %v, want ErrNoServerAvailable", err)
	}
	if got := store.campaign(campaignID).Status; got != model.CampaignError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestExhaustedServersWaitThenSend(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 1)}, []int{100}, emails(2)...)
	d, env := newDispatcherForTest(t, store, func(cfg *Config) {
		cfg.ServerBackoff = 30 * time.Second
	})

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Sent != 2 {
		t.Fatalf("sent = %d, want 2", result.Sent)
	}
	sleeps := env.clock.Sleeps()
	if len(sleeps) == 0 {
		t.Fatalf("expected a backoff while the server was over quota")
	}
	for _, s := range sleeps {
		if s != 30*time.Second {
			t.Fatalf("backoff = %s, want 30s", s)
		}
	}
	if got := promtest.ToFloat64(env.metrics.ServerWaits); got != float64(len(sleeps)) {
		t.Fatalf("server waits metric = %v, want %d", got, len(sleeps))
	}
	if env.observer.count(EventServerSkipped) == 0 {
		t.Fatalf("expected server skipped events")
	}
}

func TestExhaustedServersGiveUpAfterMaxWait(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 0)}, []int{100}, emails(1)...)
	d, env := newDispatcherForTest(t, store, func(cfg *Config) {
		cfg.ServerBackoff = 30 * time.Second
		cfg.MaxServerWait = 90 * time.Second
	})

	_, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if !errors.Is(err, ErrServersExhausted) {
		t.Fatalf("err = %v, want ErrServersExhausted", err)
	}
	if got := len(env.clock.Sleeps()); got != 3 {
		t.Fatalf("backoffs = %d, want 3", got)
	}
	if got := store.campaign(campaignID).Status; got != model.CampaignError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestWorkerPanicBecomesAbnormalExit(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(2)...)
	d, env := newDispatcherForTest(t, store, nil)
	env.sender.onSend = func(int) { panic("transport exploded") }

	result, err := d.Start(testutil.Context(t, 5*time.Second), campaignID)
	if !errors.Is(err, ErrWorkerAbnormalExit) {
		t.Fatalf("err = %v, want ErrWorkerAbnormalExit", err)
	}
	if result.Status != model.CampaignError {
		t.Fatalf("status = %s, want error", result.Status)
	}
	if c := store.campaign(campaignID); !strings.Contains(c.LastError, "transport exploded") {
		t.Fatalf("last error = %q", c.LastError)
	}
	if _, ok := store.savedUsage(model.OwnerCustomer, customerID); !ok {
		t.Fatalf("customer usage not flushed after panic")
	}
}

func TestCanceledContextFailsCampaign(t *testing.T) {
	store := newFakeStore()
	seedCampaign(store, unlimitedPlan(), []model.SendingServer{serverForTest(1, 100)}, []int{100}, emails(5)...)
	ctx, cancel := context.WithCancel(context.Background())
	d, env := newDispatcherForTest(t, store, nil)
	env.sender.onSend = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := d.Start(ctx, campaignID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := store.campaign(campaignID).Status; got != model.CampaignError {
		t.Fatalf("status = %s, want error", got)
	}
	if got := len(store.trackingLogs()); got != 2 {
		t.Fatalf("tracked = %d, want 2", got)
	}
}
