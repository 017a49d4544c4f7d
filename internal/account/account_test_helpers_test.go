package account

import (
	"context"
	"sync"
	"time"

	"mailpace/internal/backend"
	"mailpace/internal/backend/memory"
	"mailpace/internal/model"
	"mailpace/internal/timeseries"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type usageKey struct {
	owner model.QuotaOwner
	id    int64
}

// fakeUsageStore keeps snapshots and delivery history in maps.
type fakeUsageStore struct {
	mu         sync.Mutex
	snapshots  map[usageKey]timeseries.Series
	deliveries map[usageKey]timeseries.Series
	sinces     []time.Time
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{
		snapshots:  map[usageKey]timeseries.Series{},
		deliveries: map[usageKey]timeseries.Series{},
	}
}

func (f *fakeUsageStore) LoadUsage(_ context.Context, owner model.QuotaOwner, id int64) (timeseries.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[usageKey{owner, id}].Clone(), nil
}

func (f *fakeUsageStore) SaveUsage(_ context.Context, owner model.QuotaOwner, id int64, series timeseries.Series) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[usageKey{owner, id}] = series.Clone()
	return nil
}

func (f *fakeUsageStore) DeliveriesSince(_ context.Context, owner model.QuotaOwner, id int64, since time.Time) (timeseries.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.deliveries[usageKey{owner, id}].Since(since.Unix()), nil
}

func newBackendForTest() backend.Backend {
	return memory.New(backend.Options{Timeout: time.Second, PollInterval: time.Millisecond})
}

func customerForTest(plan model.Plan) model.Customer {
	return model.Customer{
		ID:   7,
		UID:  "cust-7",
		Name: "Acme",
		Subscription: &model.Subscription{
			Status:    model.SubscriptionActive,
			StartDate: epoch.Add(-24 * time.Hour),
			Plan:      plan,
		},
	}
}

func serverForTest(max int64) model.SendingServer {
	return model.SendingServer{ID: 3, UID: "srv-3", Name: "relay", QuotaValue: max, QuotaBase: 1, QuotaUnit: "minute"}
}
