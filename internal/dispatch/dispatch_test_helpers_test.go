package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"mailpace/internal/backend"
	"mailpace/internal/backend/memory"
	"mailpace/internal/mailer"
	"mailpace/internal/metrics"
	"mailpace/internal/model"
	"mailpace/internal/quota"
	"mailpace/internal/testutil"
	"mailpace/internal/timeseries"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	campaignID = int64(1)
	customerID = int64(10)
	listID     = int64(20)
)

type usageKey struct {
	owner model.QuotaOwner
	id    int64
}

// fakeStore keeps every record in memory behind one mutex.
type fakeStore struct {
	mu          sync.Mutex
	campaigns   map[int64]*model.Campaign
	customers   map[int64]model.Customer
	lists       map[int64]model.MailList
	listServers map[int64][]model.ServerWeight
	servers     map[int64]model.SendingServer
	subscribers []model.Subscriber
	tracking    []model.TrackingLog
	usage       map[usageKey]timeseries.Series
	statusReads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:   map[int64]*model.Campaign{},
		customers:   map[int64]model.Customer{},
		lists:       map[int64]model.MailList{},
		listServers: map[int64][]model.ServerWeight{},
		servers:     map[int64]model.SendingServer{},
		usage:       map[usageKey]timeseries.Series{},
	}
}

func (f *fakeStore) LoadUsage(_ context.Context, owner model.QuotaOwner, id int64) (timeseries.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[usageKey{owner, id}].Clone(), nil
}

func (f *fakeStore) SaveUsage(_ context.Context, owner model.QuotaOwner, id int64, series timeseries.Series) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[usageKey{owner, id}] = series.Clone()
	return nil
}

func (f *fakeStore) DeliveriesSince(_ context.Context, owner model.QuotaOwner, id int64, since time.Time) (timeseries.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := timeseries.Series{}
	for _, log := range f.tracking {
		match := (owner == model.OwnerCustomer && log.CustomerID == id) ||
			(owner == model.OwnerServer && log.SendingServerID == id)
		if match && !log.CreatedAt.Before(since) {
			out.Append(log.CreatedAt.Unix())
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimForSending(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.Status != model.CampaignReady {
		return false, nil
	}
	c.Status = model.CampaignSending
	c.DeliveryAt = at
	return true, nil
}

func (f *fakeStore) Campaign(_ context.Context, id int64) (model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return model.Campaign{}, fmt.Errorf("campaign %d not found", id)
	}
	return *c, nil
}

func (f *fakeStore) CampaignStatus(_ context.Context, id int64) (model.CampaignStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusReads++
	return f.campaigns[id].Status, nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id int64, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	for _, status := range from {
		if c.Status == status {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkError(_ context.Context, id int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	c.Status = model.CampaignError
	c.LastError = message
	return nil
}

func (f *fakeStore) Customer(_ context.Context, id int64) (model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[id], nil
}

func (f *fakeStore) MailList(_ context.Context, id int64) (model.MailList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[id], nil
}

func (f *fakeStore) ListServers(_ context.Context, list model.MailList) ([]model.ServerWeight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ServerWeight(nil), f.listServers[list.ID]...), nil
}

func (f *fakeStore) SendingServer(_ context.Context, id int64) (model.SendingServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[id]
	if !ok {
		return model.SendingServer{}, fmt.Errorf("server %d not found", id)
	}
	return s, nil
}

func (f *fakeStore) PendingSubscribers(_ context.Context, campaign model.Campaign) ([]model.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tracked := map[int64]bool{}
	for _, log := range f.tracking {
		if log.CampaignID == campaign.ID {
			tracked[log.SubscriberID] = true
		}
	}
	seen := map[string]bool{}
	var out []model.Subscriber
	for _, sub := range f.subscribers {
		if sub.MailListID != campaign.MailListID || tracked[sub.ID] || seen[sub.Email] {
			continue
		}
		seen[sub.Email] = true
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeStore) RecordTracking(_ context.Context, log model.TrackingLog) (model.TrackingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = int64(len(f.tracking) + 1)
	f.tracking = append(f.tracking, log)
	return log, nil
}

func (f *fakeStore) setStatus(id int64, status model.CampaignStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].Status = status
}

func (f *fakeStore) campaign(id int64) model.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.campaigns[id]
}

func (f *fakeStore) trackingLogs() []model.TrackingLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TrackingLog(nil), f.tracking...)
}

func (f *fakeStore) savedUsage(owner model.QuotaOwner, id int64) (timeseries.Series, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.usage[usageKey{owner, id}]
	return s, ok
}

func unlimitedPlan() model.Plan {
	return model.Plan{
		EmailMax:             quota.Unlimited,
		SendingQuota:         quota.Unlimited,
		SendingQuotaTime:     1,
		SendingQuotaTimeUnit: "day",
		MaxProcess:           1,
	}
}

// seedCampaign stores a ready campaign for a customer on plan, a list with
// the given servers and one subscriber per email.
func seedCampaign(store *fakeStore, plan model.Plan, servers []model.SendingServer, weights []int, emails ...string) {
	store.customers[customerID] = model.Customer{
		ID:   customerID,
		UID:  "cust-10",
		Name: "Acme",
		Subscription: &model.Subscription{
			Status:    model.SubscriptionActive,
			StartDate: epoch.Add(-24 * time.Hour),
			Plan:      plan,
		},
	}
	store.lists[listID] = model.MailList{ID: listID, UID: "list-20", CustomerID: customerID, Name: "Newsletter", FromEmail: "news@acme.test"}
	for i, server := range servers {
		store.servers[server.ID] = server
		store.listServers[listID] = append(store.listServers[listID], model.ServerWeight{ServerID: server.ID, Fitness: weights[i]})
	}
	for i, email := range emails {
		store.subscribers = append(store.subscribers, model.Subscriber{
			ID:         int64(100 + i),
			UID:        fmt.Sprintf("sub-%d", 100+i),
			MailListID: listID,
			Email:      email,
			Status:     model.SubscriberSubscribed,
		})
	}
	store.campaigns[campaignID] = &model.Campaign{
		ID:         campaignID,
		UID:        "camp-1",
		CustomerID: customerID,
		MailListID: listID,
		Name:       "Launch",
		Subject:    "Hello {SUBSCRIBER_EMAIL}",
		FromEmail:  "news@acme.test",
		HTML:       "<p>Hi</p>",
		Status:     model.CampaignReady,
	}
}

func serverForTest(id int64, max int64) model.SendingServer {
	return model.SendingServer{
		ID:         id,
		UID:        fmt.Sprintf("srv-%d", id),
		Name:       fmt.Sprintf("relay-%d", id),
		Type:       model.ServerTypeLog,
		Status:     model.ServerActive,
		QuotaValue: max,
		QuotaBase:  1,
		QuotaUnit:  "minute",
	}
}

func emails(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

// recordingSender accepts every message and remembers which server sent it.
type recordingSender struct {
	mu      sync.Mutex
	servers []int64
	fail    map[string]error
	onSend  func(n int)
	// onRecipient runs before the message to `to` is accepted.
	onRecipient func(to string)
}

func (s *recordingSender) Send(_ context.Context, server model.SendingServer, msg mailer.Message) (mailer.Result, error) {
	s.mu.Lock()
	s.servers = append(s.servers, server.ID)
	n := len(s.servers)
	err := s.fail[msg.To]
	hook := s.onSend
	perRecipient := s.onRecipient
	s.mu.Unlock()
	if perRecipient != nil {
		perRecipient(msg.To)
	}
	if hook != nil {
		hook(n)
	}
	if err != nil {
		return mailer.Result{}, err
	}
	return mailer.Result{Status: model.DeliverySent}, nil
}

func (s *recordingSender) sentBy() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.servers...)
}

type dispatchEnv struct {
	store    *fakeStore
	sender   *recordingSender
	clock    *testutil.FakeClock
	backend  backend.Backend
	metrics  *metrics.Metrics
	observer *recordingObserver
}

func newDispatcherForTest(t *testing.T, store *fakeStore, mutate func(*Config)) (*Dispatcher, *dispatchEnv) {
	t.Helper()
	m, err := metrics.New(metrics.Options{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	env := &dispatchEnv{
		store:    store,
		sender:   &recordingSender{},
		clock:    testutil.NewFakeClock(epoch),
		backend:  memory.New(backend.Options{Timeout: time.Second, PollInterval: time.Millisecond}),
		metrics:  m,
		observer: &recordingObserver{},
	}
	cfg := Config{
		Store:    store,
		Backend:  env.backend,
		Sender:   env.sender,
		Logger:   zaptest.NewLogger(t),
		Metrics:  m,
		Observer: env.observer,
		Now:      env.clock.Now,
		Sleep:    env.clock.Sleep,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, env
}

type recordingObserver struct {
	mu     sync.Mutex
	starts []RunInfo
	events []Event
	ends   []Result
}

func (o *recordingObserver) OnRunStart(info RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, info)
}

func (o *recordingObserver) OnEvent(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) OnRunEnd(result Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends = append(o.ends, result)
}

// workerEnds maps each worker index to the error text of its end event.
func (o *recordingObserver) workerEnds() map[int]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := map[int]string{}
	for _, event := range o.events {
		if event.Type == EventWorkerEnd {
			out[event.Worker] = event.Error
		}
	}
	return out
}

// waitForStatus polls the store until the campaign reaches status or the
// timeout passes. It reports nothing itself so it can run on any goroutine.
func waitForStatus(store *fakeStore, id int64, status model.CampaignStatus, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if store.campaign(id).Status == status {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func (o *recordingObserver) count(kind EventType) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, event := range o.events {
		if event.Type == kind {
			n++
		}
	}
	return n
}
