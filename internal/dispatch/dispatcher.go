// Package dispatch runs campaigns: it claims a ready campaign, fans its
// pending recipients out to workers and settles the final status.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpace/internal/account"
	"mailpace/internal/backend"
	"mailpace/internal/mailer"
	"mailpace/internal/metrics"
	"mailpace/internal/model"
)

const (
	DefaultPauseCheckEvery = 50
	DefaultServerBackoff   = 30 * time.Second
	DefaultMaxServerWait   = 30 * time.Minute
)

// Store is the persistence a run needs.
type Store interface {
	account.UsageStore
	ClaimForSending(ctx context.Context, id int64, at time.Time) (bool, error)
	Campaign(ctx context.Context, id int64) (model.Campaign, error)
	CampaignStatus(ctx context.Context, id int64) (model.CampaignStatus, error)
	TransitionStatus(ctx context.Context, id int64, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error)
	MarkError(ctx context.Context, id int64, message string) error
	Customer(ctx context.Context, id int64) (model.Customer, error)
	MailList(ctx context.Context, id int64) (model.MailList, error)
	ListServers(ctx context.Context, list model.MailList) ([]model.ServerWeight, error)
	SendingServer(ctx context.Context, id int64) (model.SendingServer, error)
	PendingSubscribers(ctx context.Context, campaign model.Campaign) ([]model.Subscriber, error)
	RecordTracking(ctx context.Context, log model.TrackingLog) (model.TrackingLog, error)
}

// Config wires a Dispatcher. Store, Backend and Sender are required.
type Config struct {
	Store    Store
	Backend  backend.Backend
	Sender   mailer.Sender
	Renderer mailer.Renderer
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Observer Observer
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error

	// PauseCheckEvery is how many recipients a worker handles between
	// status reads.
	PauseCheckEvery int
	// ServerBackoff is the sleep taken when every server is over quota.
	ServerBackoff time.Duration
	// MaxServerWait bounds the total backoff for one recipient.
	MaxServerWait time.Duration
	// WorkerDelay staggers worker start when a campaign runs in parallel.
	WorkerDelay time.Duration
}

// Dispatcher runs campaigns.
type Dispatcher struct {
	cfg Config
	log *zap.Logger
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("dispatch: store is required")
	case cfg.Backend == nil:
		return nil, errors.New("dispatch: quota backend is required")
	case cfg.Sender == nil:
		return nil, errors.New("dispatch: sender is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Renderer.Now == nil {
		cfg.Renderer.Now = cfg.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.PauseCheckEvery <= 0 {
		cfg.PauseCheckEvery = DefaultPauseCheckEvery
	}
	if cfg.ServerBackoff <= 0 {
		cfg.ServerBackoff = DefaultServerBackoff
	}
	if cfg.MaxServerWait <= 0 {
		cfg.MaxServerWait = DefaultMaxServerWait
	}
	return &Dispatcher{cfg: cfg, log: cfg.Logger}, nil
}

// run is the state shared by the workers of one campaign run.
type run struct {
	id       string
	campaign model.Campaign
	customer model.Customer
	list     model.MailList
	servers  []model.ServerWeight
	parallel bool
	log      *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// Start claims the campaign and sends it to every pending recipient. A
// campaign that is not ready, or that another runner claimed first, yields
// ErrNotReady and is left untouched. Otherwise the returned Result carries
// the final status, and err is the failure that put the campaign in error.
func (d *Dispatcher) Start(ctx context.Context, campaignID int64) (Result, error) {
	result := Result{CampaignID: campaignID}
	claimed, err := d.cfg.Store.ClaimForSending(ctx, campaignID, d.cfg.Now())
	if err != nil {
		return result, fmt.Errorf("claim campaign %d: %w", campaignID, err)
	}
	if !claimed {
		return result, fmt.Errorf("campaign %d: %w", campaignID, ErrNotReady)
	}

	r := &run{id: uuid.NewString()}
	result.RunID = r.id
	log := d.log.With(zap.Int64("campaign_id", campaignID), zap.String("run_id", r.id))
	r.log = log

	pending, err := d.prepare(ctx, campaignID, r)
	if err != nil {
		d.fail(ctx, campaignID, log, err)
		result.Status = model.CampaignError
		result.Error = err.Error()
		d.cfg.Metrics.CampaignFinished(string(result.Status))
		d.cfg.Observer.OnRunEnd(result)
		return result, err
	}

	workers := 1
	if sub := r.customer.Subscription; sub != nil && sub.Plan.MaxProcess > 1 {
		workers = sub.Plan.MaxProcess
	}
	chunks := Chunks(pending, workers)
	r.parallel = len(chunks) > 1
	result.Recipients = len(pending)
	result.Workers = len(chunks)
	log.Info("starting campaign",
		zap.String("campaign", r.campaign.Name),
		zap.Int("recipients", len(pending)),
		zap.Int("workers", len(chunks)))
	d.cfg.Observer.OnRunStart(RunInfo{
		RunID:        r.id,
		CampaignID:   campaignID,
		CampaignName: r.campaign.Name,
		Recipients:   len(pending),
		Workers:      len(chunks),
	})

	var group errgroup.Group
	for i, chunk := range chunks {
		group.Go(func() error {
			return d.runWorker(ctx, r, i+1, chunk)
		})
	}
	runErr := group.Wait()

	settle := context.WithoutCancel(ctx)
	result.Sent = int(r.sent.Load())
	result.Failed = int(r.failed.Load())
	result.Status, err = d.settle(settle, campaignID, runErr)
	if err != nil {
		log.Error("settle campaign status", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	log.Info("finished campaign",
		zap.String("status", string(result.Status)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	d.cfg.Metrics.CampaignFinished(string(result.Status))
	d.cfg.Observer.OnRunEnd(result)
	return result, runErr
}

func (d *Dispatcher) prepare(ctx context.Context, campaignID int64, r *run) ([]model.Subscriber, error) {
	var err error
	if r.campaign, err = d.cfg.Store.Campaign(ctx, campaignID); err != nil {
		return nil, err
	}
	if r.customer, err = d.cfg.Store.Customer(ctx, r.campaign.CustomerID); err != nil {
		return nil, err
	}
	if r.list, err = d.cfg.Store.MailList(ctx, r.campaign.MailListID); err != nil {
		return nil, err
	}
	if r.servers, err = d.cfg.Store.ListServers(ctx, r.list); err != nil {
		return nil, err
	}
	return d.cfg.Store.PendingSubscribers(ctx, r.campaign)
}

// settle moves a cleanly finished run to done. A run whose campaign was
// paused or failed meanwhile keeps that status.
func (d *Dispatcher) settle(ctx context.Context, campaignID int64, runErr error) (model.CampaignStatus, error) {
	if runErr != nil {
		return model.CampaignError, nil
	}
	done, err := d.cfg.Store.TransitionStatus(ctx, campaignID, model.CampaignDone, model.CampaignSending)
	if err != nil {
		return "", err
	}
	if done {
		return model.CampaignDone, nil
	}
	return d.cfg.Store.CampaignStatus(ctx, campaignID)
}

func (d *Dispatcher) fail(ctx context.Context, campaignID int64, log *zap.Logger, err error) {
	log.Error("campaign failed", zap.Error(err))
	if markErr := d.cfg.Store.MarkError(context.WithoutCancel(ctx), campaignID, err.Error()); markErr != nil {
		log.Error("record campaign error", zap.Error(markErr))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
