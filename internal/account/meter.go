// Package account binds quota trackers to customers and sending servers,
// deriving their limits from plans and server settings.
package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"mailpace/internal/backend"
	"mailpace/internal/model"
	"mailpace/internal/quota"
	"mailpace/internal/timeseries"
)

// ErrNotSubscribed reports a customer without an active subscription.
var ErrNotSubscribed = errors.New("customer has no active subscription")

// UsageStore persists usage snapshots and exposes the delivery history they
// can be rebuilt from.
type UsageStore interface {
	LoadUsage(ctx context.Context, owner model.QuotaOwner, id int64) (timeseries.Series, error)
	SaveUsage(ctx context.Context, owner model.QuotaOwner, id int64, series timeseries.Series) error
	DeliveriesSince(ctx context.Context, owner model.QuotaOwner, id int64, since time.Time) (timeseries.Series, error)
}

// Meter tracks sends for one customer or server.
type Meter struct {
	owner   model.QuotaOwner
	id      int64
	uid     string
	name    string
	tracker *quota.Tracker
	store   UsageStore
	now     func() time.Time

	subscription *model.Subscription
	window       *quota.Interval
}

// CustomerKey is the backend key of a customer's series.
func CustomerKey(uid string) string { return "customers/" + uid }

// ServerKey is the backend key of a sending server's series.
func ServerKey(uid string) string { return "servers/" + uid }

// ForCustomer builds a meter enforcing the customer's plan: the plan's
// email_max counted from the subscription start, and its sending rate.
func ForCustomer(b backend.Backend, store UsageStore, customer model.Customer, now func() time.Time) (*Meter, error) {
	sub := customer.Subscription
	if now == nil {
		now = time.Now
	}
	if !sub.Active(now()) {
		return nil, fmt.Errorf("customer %s: %w", customer.UID, ErrNotSubscribed)
	}
	plan := sub.Plan
	cfg := quota.Config{
		Key:   CustomerKey(customer.UID),
		Quota: &quota.Definition{Start: sub.StartDate, Max: plan.EmailMax},
	}
	window, err := limitWindow(plan.SendingQuotaTime, plan.SendingQuotaTimeUnit, plan.SendingQuota)
	if err != nil {
		return nil, fmt.Errorf("customer %s plan: %w", customer.UID, err)
	}
	if window != nil {
		cfg.Limits = []quota.Limit{{Interval: *window, Max: plan.SendingQuota}}
	}
	return &Meter{
		owner:        model.OwnerCustomer,
		id:           customer.ID,
		uid:          customer.UID,
		name:         customer.Name,
		tracker:      quota.New(b, cfg),
		store:        store,
		now:          now,
		subscription: sub,
		window:       window,
	}, nil
}

// ForServer builds a meter enforcing the server's sending rate.
func ForServer(b backend.Backend, store UsageStore, server model.SendingServer, now func() time.Time) (*Meter, error) {
	if now == nil {
		now = time.Now
	}
	window, err := limitWindow(server.QuotaBase, server.QuotaUnit, server.QuotaValue)
	if err != nil {
		return nil, fmt.Errorf("server %s quota: %w", server.UID, err)
	}
	cfg := quota.Config{Key: ServerKey(server.UID)}
	if window != nil {
		cfg.Limits = []quota.Limit{{Interval: *window, Max: server.QuotaValue}}
	}
	return &Meter{
		owner:   model.OwnerServer,
		id:      server.ID,
		uid:     server.UID,
		name:    server.Name,
		tracker: quota.New(b, cfg),
		store:   store,
		now:     now,
		window:  window,
	}, nil
}

// limitWindow returns nil when an unlimited limit has no usable interval.
func limitWindow(count int, unit string, max int64) (*quota.Interval, error) {
	interval, err := quota.NewInterval(count, unit)
	if err != nil {
		if max == quota.Unlimited {
			return nil, nil
		}
		return nil, err
	}
	return &interval, nil
}

// Owner reports whether this meter belongs to a customer or a server.
func (m *Meter) Owner() model.QuotaOwner { return m.owner }

// ID returns the owning record's id.
func (m *Meter) ID() int64 { return m.id }

// UID returns the owning record's uid.
func (m *Meter) UID() string { return m.uid }

// Name returns the owning record's display name.
func (m *Meter) Name() string { return m.name }

// Tracker exposes the underlying tracker.
func (m *Meter) Tracker() *quota.Tracker { return m.tracker }

func (m *Meter) subscribed() error {
	if m.owner == model.OwnerCustomer && !m.subscription.Active(m.now()) {
		return fmt.Errorf("customer %s: %w", m.uid, ErrNotSubscribed)
	}
	return nil
}

// OverQuota reports whether one more send now would break a limit.
func (m *Meter) OverQuota(ctx context.Context) (bool, error) {
	if err := m.subscribed(); err != nil {
		return false, err
	}
	ok, err := m.tracker.Check(ctx, m.now())
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// CountUsage records a send at `at` if it fits, reporting whether it did.
func (m *Meter) CountUsage(ctx context.Context, at time.Time) (bool, error) {
	return m.tracker.Add(ctx, at)
}

// RecordUsage records a send at `at` unconditionally.
func (m *Meter) RecordUsage(ctx context.Context, at time.Time) error {
	return m.tracker.Record(ctx, at)
}

// Usage counts sends in the meter's default window.
func (m *Meter) Usage(ctx context.Context) (int, error) {
	return m.tracker.Usage(ctx, m.now(), nil)
}

// Unlimited reports whether the meter has no ceiling.
func (m *Meter) Unlimited() bool {
	return m.tracker.Ceiling() == quota.Unlimited
}

// UsagePercentage returns usage as 0 to 100, rounded to two decimals.
func (m *Meter) UsagePercentage(ctx context.Context) (float64, error) {
	frac, err := m.tracker.UsagePercentage(ctx, m.now(), nil)
	if err != nil {
		return 0, err
	}
	pct := math.Min(frac*100, 100)
	return math.Round(pct*100) / 100, nil
}

// DisplayUsage renders usage as "Unlimited" or a percentage like "12.5%".
func (m *Meter) DisplayUsage(ctx context.Context) (string, error) {
	if m.Unlimited() {
		return "Unlimited", nil
	}
	pct, err := m.UsagePercentage(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%", nil
}

// SaveUsage writes the counted series to the owner's snapshot.
func (m *Meter) SaveUsage(ctx context.Context) error {
	series, err := m.tracker.Series(ctx, m.now(), nil)
	if err != nil {
		return err
	}
	return m.store.SaveUsage(ctx, m.owner, m.id, series)
}

// Renew rebuilds the series from the snapshot and the delivery history. A
// customer counts from the subscription start and a server from the start
// of its current window.
func (m *Meter) Renew(ctx context.Context) error {
	if err := m.subscribed(); err != nil {
		return err
	}
	var since time.Time
	switch {
	case m.owner == model.OwnerCustomer:
		since = m.subscription.StartDate
	case m.window != nil:
		since = m.window.Before(m.now())
	default:
		since = time.Unix(0, 0)
	}

	return m.tracker.Renew(ctx, since, historySource{store: m.store, owner: m.owner, id: m.id})
}

type historySource struct {
	store UsageStore
	owner model.QuotaOwner
	id    int64
}

func (h historySource) Snapshot(ctx context.Context) (timeseries.Series, error) {
	return h.store.LoadUsage(ctx, h.owner, h.id)
}

func (h historySource) EventsSince(ctx context.Context, since time.Time) (timeseries.Series, error) {
	return h.store.DeliveriesSince(ctx, h.owner, h.id, since)
}
