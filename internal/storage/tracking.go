package storage

import (
	"context"
	"fmt"
	"time"

	"mailpace/internal/model"
	"mailpace/internal/timeseries"
)

// RecordTracking stores one delivery attempt.
func (s *Store) RecordTracking(ctx context.Context, log model.TrackingLog) (model.TrackingLog, error) {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	log.CreatedAt = log.CreatedAt.UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tracking_logs (campaign_id, subscriber_id, sending_server_id, customer_id, message_id, runtime_message_id, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		log.CampaignID, log.SubscriberID, log.SendingServerID, log.CustomerID, log.MessageID,
		log.RuntimeMessageID, log.Status, log.Error, log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return model.TrackingLog{}, fmt.Errorf("insert tracking log: %w", err)
	}
	return log, nil
}

// TrackingLogs lists the attempts recorded for a campaign in insert order.
func (s *Store) TrackingLogs(ctx context.Context, campaignID int64) ([]model.TrackingLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, subscriber_id, sending_server_id, customer_id, message_id, runtime_message_id, status, error, created_at
		 FROM tracking_logs WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list tracking logs: %w", err)
	}
	defer rows.Close()
	var out []model.TrackingLog
	for rows.Next() {
		var log model.TrackingLog
		if err := rows.Scan(&log.ID, &log.CampaignID, &log.SubscriberID, &log.SendingServerID, &log.CustomerID,
			&log.MessageID, &log.RuntimeMessageID, &log.Status, &log.Error, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking log: %w", err)
		}
		log.CreatedAt = log.CreatedAt.UTC()
		out = append(out, log)
	}
	return out, rows.Err()
}

// CampaignStats counts attempts by outcome.
type CampaignStats struct {
	Sent   int
	Failed int
}

// Stats summarizes the attempts recorded for a campaign.
func (s *Store) Stats(ctx context.Context, campaignID int64) (CampaignStats, error) {
	var stats CampaignStats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE status = ?), count(*) FILTER (WHERE status <> ?)
		 FROM tracking_logs WHERE campaign_id = ?`,
		model.DeliverySent, model.DeliverySent, campaignID,
	).Scan(&stats.Sent, &stats.Failed)
	if err != nil {
		return CampaignStats{}, fmt.Errorf("campaign stats: %w", err)
	}
	return stats, nil
}

var ownerColumns = map[model.QuotaOwner]string{
	model.OwnerCustomer: "customer_id",
	model.OwnerServer:   "sending_server_id",
}

// DeliveriesSince returns the attempt timestamps attributed to owner at or
// after since, oldest first.
func (s *Store) DeliveriesSince(ctx context.Context, owner model.QuotaOwner, id int64, since time.Time) (timeseries.Series, error) {
	column, ok := ownerColumns[owner]
	if !ok {
		return nil, fmt.Errorf("unknown quota owner %q", owner)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at FROM tracking_logs WHERE `+column+` = ? AND created_at >= ? ORDER BY created_at, id`,
		id, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	out := timeseries.Series{}
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out.Append(at.Unix())
	}
	return out, rows.Err()
}
