package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailpace/internal/account"
	"mailpace/internal/model"
	"mailpace/internal/roulette"
)

// serverWarnInterval throttles the per-server over-quota warning.
const serverWarnInterval = time.Minute

type poolEntry struct {
	server model.SendingServer
	meter  *account.Meter
	warn   rate.Sometimes
}

// serverPool picks sending servers for one worker. Servers are loaded on
// first pick and their meters live as long as the worker.
type serverPool struct {
	w          *worker
	rand       *rand.Rand
	candidates []roulette.Candidate[int64]
	entries    map[int64]*poolEntry
}

func newServerPool(w *worker, r *rand.Rand) *serverPool {
	candidates := make([]roulette.Candidate[int64], 0, len(w.run.servers))
	for _, s := range w.run.servers {
		candidates = append(candidates, roulette.Candidate[int64]{Key: s.ServerID, Weight: s.Fitness})
	}
	return &serverPool{
		w:          w,
		rand:       r,
		candidates: candidates,
		entries:    map[int64]*poolEntry{},
	}
}

// pick draws servers by fitness until one is under quota. Over-quota servers
// are skipped; once all are skipped the pool sleeps ServerBackoff and starts
// over, giving up after MaxServerWait.
func (p *serverPool) pick(ctx context.Context) (*poolEntry, error) {
	cfg := p.w.d.cfg
	listID := p.w.run.list.ID
	exhausted := map[int64]bool{}
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		open := make([]roulette.Candidate[int64], 0, len(p.candidates))
		for _, c := range p.candidates {
			if !exhausted[c.Key] {
				open = append(open, c)
			}
		}
		id, ok := roulette.Pick(p.rand, open)
		if !ok {
			if len(exhausted) == 0 {
				return nil, fmt.Errorf("mail list %d: %w", listID, ErrNoServerAvailable)
			}
			if waited >= cfg.MaxServerWait {
				return nil, fmt.Errorf("mail list %d after %s: %w", listID, waited, ErrServersExhausted)
			}
			p.w.log.Warn("all sending servers exceed sending limit, waiting",
				zap.Duration("backoff", cfg.ServerBackoff))
			cfg.Metrics.ServerWait()
			cfg.Observer.OnEvent(Event{
				CampaignID: p.w.run.campaign.ID,
				Worker:     p.w.index,
				Type:       EventServersWaiting,
				EmittedAt:  cfg.Now(),
			})
			if err := cfg.Sleep(ctx, cfg.ServerBackoff); err != nil {
				return nil, err
			}
			waited += cfg.ServerBackoff
			clear(exhausted)
			continue
		}

		entry, err := p.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		over, err := entry.meter.OverQuota(ctx)
		if err != nil {
			return nil, err
		}
		if !over {
			return entry, nil
		}
		exhausted[id] = true
		cfg.Metrics.Denied(string(model.OwnerServer))
		entry.warn.Do(func() {
			p.w.log.Warn("sending server exceeds sending limit, skipped",
				zap.String("server", entry.server.Name))
		})
		cfg.Observer.OnEvent(Event{
			CampaignID: p.w.run.campaign.ID,
			Worker:     p.w.index,
			Type:       EventServerSkipped,
			Server:     entry.server.Name,
			EmittedAt:  cfg.Now(),
		})
	}
}

func (p *serverPool) entry(ctx context.Context, id int64) (*poolEntry, error) {
	if entry, ok := p.entries[id]; ok {
		return entry, nil
	}
	cfg := p.w.d.cfg
	server, err := cfg.Store.SendingServer(ctx, id)
	if err != nil {
		return nil, err
	}
	meter, err := account.ForServer(cfg.Backend, cfg.Store, server, cfg.Now)
	if err != nil {
		return nil, err
	}
	p.w.log.Info("initialize delivery server",
		zap.String("server", server.Name),
		zap.Int64("server_id", id))
	entry := &poolEntry{server: server, meter: meter, warn: rate.Sometimes{Interval: serverWarnInterval}}
	p.entries[id] = entry
	return entry, nil
}

// flush saves the usage snapshot of every server this pool touched.
func (p *serverPool) flush(ctx context.Context) error {
	var errs []error
	for _, entry := range p.entries {
		if err := entry.meter.SaveUsage(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", entry.server.UID, err))
		}
	}
	return errors.Join(errs...)
}
