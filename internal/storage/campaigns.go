package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailpace/internal/model"
)

// CreateCampaign inserts a campaign. New campaigns default to status new.
func (s *Store) CreateCampaign(ctx context.Context, c model.Campaign) (model.Campaign, error) {
	if c.UID == "" {
		c.UID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignNew
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO campaigns (uid, customer_id, mail_list_id, name, subject, from_email, from_name, reply_to, html, plain, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		c.UID, c.CustomerID, c.MailListID, c.Name, c.Subject, c.FromEmail, c.FromName, c.ReplyTo, c.HTML, c.Plain, string(c.Status),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return model.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

const campaignColumns = `id, uid, customer_id, mail_list_id, name, subject, from_email, from_name, reply_to,
	html, plain, status, last_error, delivery_at, created_at`

func scanCampaign(row scanner) (model.Campaign, error) {
	var (
		c        model.Campaign
		status   string
		delivery sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UID, &c.CustomerID, &c.MailListID, &c.Name, &c.Subject, &c.FromEmail,
		&c.FromName, &c.ReplyTo, &c.HTML, &c.Plain, &status, &c.LastError, &delivery, &c.CreatedAt)
	c.Status = model.CampaignStatus(status)
	c.DeliveryAt = timeOrZero(delivery)
	return c, err
}

// Campaign loads a campaign by id.
func (s *Store) Campaign(ctx context.Context, id int64) (model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, notFound("campaign", id)
	}
	if err != nil {
		return model.Campaign{}, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

// CampaignByUID loads a campaign by uid.
func (s *Store) CampaignByUID(ctx context.Context, uid string) (model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE uid = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, notFound("campaign", uid)
	}
	if err != nil {
		return model.Campaign{}, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

// CampaignsByStatus lists campaigns in status, oldest first.
func (s *Store) CampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignStatus reads only the status column.
func (s *Store) CampaignStatus(ctx context.Context, id int64) (model.CampaignStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("campaign", id)
	}
	if err != nil {
		return "", fmt.Errorf("load campaign status: %w", err)
	}
	return model.CampaignStatus(status), nil
}

// TransitionStatus moves the campaign to `to` only if it is currently in one
// of from. It reports whether this call made the change; losing a concurrent
// update counts as not changed.
func (s *Store) TransitionStatus(ctx context.Context, id int64, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	return s.transition(ctx, id, to, "", from)
}

// ClaimForSending moves a ready campaign to sending and stamps delivery_at.
// At most one concurrent caller wins.
func (s *Store) ClaimForSending(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.transition(ctx, id, model.CampaignSending, ", delivery_at = ?", []model.CampaignStatus{model.CampaignReady}, at.UTC())
}

// QueueCampaign marks a new, paused or failed campaign ready to run.
func (s *Store) QueueCampaign(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, model.CampaignReady, ", last_error = ''",
		[]model.CampaignStatus{model.CampaignNew, model.CampaignPaused, model.CampaignError})
}

// PauseCampaign asks a queued or running campaign to stop.
func (s *Store) PauseCampaign(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, model.CampaignPaused, "",
		[]model.CampaignStatus{model.CampaignReady, model.CampaignSending})
}

func (s *Store) transition(ctx context.Context, id int64, to model.CampaignStatus, extraSet string, from []model.CampaignStatus, extraArgs ...any) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition: no source status")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to)}
	args = append(args, extraArgs...)
	args = append(args, id)
	for _, status := range from {
		args = append(args, string(status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?`+extraSet+` WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkError records a failure. Error overrides any other status.
func (s *Store) MarkError(ctx context.Context, id int64, message string) error {
	_, err := s.execRetry(ctx,
		`UPDATE campaigns SET status = ?, last_error = ? WHERE id = ?`,
		string(model.CampaignError), message, id)
	if err != nil {
		return fmt.Errorf("mark campaign %d error: %w", id, err)
	}
	return nil
}
