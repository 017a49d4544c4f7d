package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailpace/internal/dispatch"
	"mailpace/internal/model"
)

// campaignSource lists campaigns waiting to be sent.
type campaignSource interface {
	CampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
}

// starter runs one campaign to completion.
type starter interface {
	Start(ctx context.Context, campaignID int64) (dispatch.Result, error)
}

// poller starts every ready campaign, one goroutine per campaign.
type poller struct {
	source   campaignSource
	starter  starter
	log      *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	running map[int64]struct{}
	wg      sync.WaitGroup
}

func newPoller(source campaignSource, s starter, log *zap.Logger, interval time.Duration) *poller {
	return &poller{
		source:   source,
		starter:  s,
		log:      log,
		interval: interval,
		running:  make(map[int64]struct{}),
	}
}

// run polls until ctx is done, then waits for in-flight campaigns.
func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// pollOnce launches the ready campaigns not already running and reports
// how many it launched.
func (p *poller) pollOnce(ctx context.Context) int {
	campaigns, err := p.source.CampaignsByStatus(ctx, model.CampaignReady)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("list ready campaigns", zap.Error(err))
		}
		return 0
	}
	launched := 0
	for _, c := range campaigns {
		if !p.claim(c.ID) {
			continue
		}
		launched++
		p.wg.Add(1)
		go func(c model.Campaign) {
			defer p.wg.Done()
			defer p.release(c.ID)
			p.start(ctx, c)
		}(c)
	}
	return launched
}

func (p *poller) start(ctx context.Context, c model.Campaign) {
	log := p.log.With(zap.Int64("campaign_id", c.ID), zap.String("campaign_uid", c.UID))
	result, err := p.starter.Start(ctx, c.ID)
	switch {
	case errors.Is(err, dispatch.ErrNotReady):
		log.Debug("campaign claimed elsewhere")
	case err != nil:
		log.Error("campaign failed", zap.Error(err))
	default:
		log.Info("campaign finished",
			zap.String("status", string(result.Status)),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed))
	}
}

func (p *poller) claim(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[id]; ok {
		return false
	}
	p.running[id] = struct{}{}
	return true
}

func (p *poller) release(id int64) {
	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
}
