package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"mailpace/internal/account"
	"mailpace/internal/logger"
	"mailpace/internal/mailer"
	"mailpace/internal/model"
)

type worker struct {
	d        *Dispatcher
	run      *run
	index    int
	log      *zap.Logger
	customer *account.Meter
	pool     *serverPool
}

// runWorker sends to recipients in order. Hard failures put the campaign in
// error before returning; usage snapshots are flushed on every exit path.
func (d *Dispatcher) runWorker(ctx context.Context, r *run, index int, recipients []model.Subscriber) (err error) {
	log := r.log.With(zap.Int("worker", index))
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker %d: %w: %v", index, ErrWorkerAbnormalExit, p)
			d.fail(ctx, r.campaign.ID, log, err)
		}
		d.cfg.Observer.OnEvent(Event{
			CampaignID: r.campaign.ID,
			Worker:     index,
			Type:       EventWorkerEnd,
			Error:      errorText(err),
			EmittedAt:  d.cfg.Now(),
		})
	}()

	w := &worker{d: d, run: r, index: index, log: log}
	defer w.flush(context.WithoutCancel(ctx))

	err = w.process(ctx, recipients)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStopped):
		log.Warn("campaign stopped", zap.Error(err))
		return nil
	default:
		d.fail(ctx, r.campaign.ID, log, err)
		return err
	}
}

func (w *worker) process(ctx context.Context, recipients []model.Subscriber) error {
	cfg := w.d.cfg
	if w.run.parallel && cfg.WorkerDelay > 0 {
		if err := cfg.Sleep(ctx, cfg.WorkerDelay); err != nil {
			return err
		}
	}
	w.log.Info("worker started", zap.Int("recipients", len(recipients)))
	cfg.Observer.OnEvent(Event{
		CampaignID: w.run.campaign.ID,
		Worker:     w.index,
		Type:       EventWorkerStart,
		EmittedAt:  cfg.Now(),
	})

	customer, err := account.ForCustomer(cfg.Backend, cfg.Store, w.run.customer, cfg.Now)
	if err != nil {
		return err
	}
	w.customer = customer
	w.pool = newServerPool(w, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))

	for i, sub := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		over, err := w.customer.OverQuota(ctx)
		if err != nil {
			return err
		}
		if over {
			cfg.Metrics.Denied(string(model.OwnerCustomer))
			return fmt.Errorf("customer %s: %w", w.run.customer.UID, ErrQuotaExceeded)
		}
		if i%cfg.PauseCheckEvery == 0 {
			status, err := cfg.Store.CampaignStatus(ctx, w.run.campaign.ID)
			if err != nil {
				return err
			}
			if status != model.CampaignSending {
				return fmt.Errorf("%w: status is %s", errStopped, status)
			}
		}

		w.log.Debug("sending",
			zap.String("recipient", logger.MaskEmail(sub.Email)),
			zap.Int("position", i+1),
			zap.Int("of", len(recipients)))
		server, err := w.pool.pick(ctx)
		if err != nil {
			return err
		}
		if err := w.deliver(ctx, sub, server); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends one message and records it. A transport failure is recorded
// as a failed delivery and does not stop the worker.
func (w *worker) deliver(ctx context.Context, sub model.Subscriber, server *poolEntry) error {
	cfg := w.d.cfg
	r := w.run
	msgID := mailer.NewMessageID(r.campaign.FromEmail)
	msg := cfg.Renderer.Render(r.campaign, r.list, r.customer, server.server, sub, msgID)

	res, err := cfg.Sender.Send(ctx, server.server, msg)
	if err != nil {
		res = mailer.Failed(err)
	}
	if res.Status == "" {
		res.Status = model.DeliverySent
	}
	if res.RuntimeMessageID == "" {
		res.RuntimeMessageID = msgID
	}

	at := cfg.Now()
	if _, err := cfg.Store.RecordTracking(ctx, model.TrackingLog{
		CampaignID:       r.campaign.ID,
		SubscriberID:     sub.ID,
		SendingServerID:  server.server.ID,
		CustomerID:       r.customer.ID,
		MessageID:        msgID,
		RuntimeMessageID: res.RuntimeMessageID,
		Status:           res.Status,
		Error:            res.Error,
		CreatedAt:        at,
	}); err != nil {
		return fmt.Errorf("track delivery to subscriber %d: %w", sub.ID, err)
	}
	if err := w.count(ctx, w.customer, at); err != nil {
		return err
	}
	if err := w.count(ctx, server.meter, at); err != nil {
		return err
	}

	event := Event{
		CampaignID: r.campaign.ID,
		Worker:     w.index,
		Type:       EventDelivered,
		Recipient:  sub.Email,
		Server:     server.server.Name,
		EmittedAt:  at,
	}
	if res.Status == model.DeliveryFailed {
		r.failed.Add(1)
		event.Type = EventFailed
		event.Error = res.Error
		w.log.Warn("delivery failed",
			zap.String("recipient", logger.MaskEmail(sub.Email)),
			zap.String("server", server.server.Name),
			zap.String("error", res.Error))
	} else {
		r.sent.Add(1)
	}
	cfg.Metrics.Delivery(res.Status)
	cfg.Observer.OnEvent(event)
	return nil
}

// count adds the send to m. When a concurrent worker filled the window
// between pick and send, the send is still recorded so usage matches the
// tracking log.
func (w *worker) count(ctx context.Context, m *account.Meter, at time.Time) error {
	ok, err := m.CountUsage(ctx, at)
	if err != nil {
		return fmt.Errorf("count %s %s usage: %w", m.Owner(), m.UID(), err)
	}
	if ok {
		return nil
	}
	w.log.Warn("send exceeded quota after it was checked",
		zap.String("owner", string(m.Owner())),
		zap.String("uid", m.UID()))
	w.d.cfg.Metrics.UsageRace()
	if err := m.RecordUsage(ctx, at); err != nil {
		return fmt.Errorf("record %s %s usage: %w", m.Owner(), m.UID(), err)
	}
	return nil
}

func (w *worker) flush(ctx context.Context) {
	var errs []error
	if w.customer != nil {
		errs = append(errs, w.customer.SaveUsage(ctx))
	}
	if w.pool != nil {
		errs = append(errs, w.pool.flush(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		w.log.Error("save quota usage", zap.Error(err))
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
