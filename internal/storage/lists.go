package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"mailpace/internal/model"
)

// DefaultFitness is the weight given to servers when a list uses all of them.
const DefaultFitness = 100

// CreateMailList inserts a mail list.
func (s *Store) CreateMailList(ctx context.Context, list model.MailList) (model.MailList, error) {
	if list.UID == "" {
		list.UID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO mail_lists (uid, customer_id, name, from_email, from_name, all_sending_servers)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		list.UID, list.CustomerID, list.Name, list.FromEmail, list.FromName, list.AllSendingServers,
	).Scan(&list.ID)
	if err != nil {
		return model.MailList{}, fmt.Errorf("insert mail list: %w", err)
	}
	return list, nil
}

// MailList loads a mail list by id.
func (s *Store) MailList(ctx context.Context, id int64) (model.MailList, error) {
	var list model.MailList
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uid, customer_id, name, from_email, from_name, all_sending_servers FROM mail_lists WHERE id = ?`, id,
	).Scan(&list.ID, &list.UID, &list.CustomerID, &list.Name, &list.FromEmail, &list.FromName, &list.AllSendingServers)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MailList{}, notFound("mail list", id)
	}
	if err != nil {
		return model.MailList{}, fmt.Errorf("load mail list: %w", err)
	}
	return list, nil
}

// AttachServer allows server to deliver for list with the given fitness.
func (s *Store) AttachServer(ctx context.Context, listID, serverID int64, fitness int) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO mail_list_servers (mail_list_id, sending_server_id, fitness) VALUES (?, ?, ?)
		 ON CONFLICT (mail_list_id, sending_server_id) DO UPDATE SET fitness = excluded.fitness`,
		listID, serverID, fitness,
	); err != nil {
		return fmt.Errorf("attach server: %w", err)
	}
	return nil
}

// ListServers returns the candidate servers for list with their fitness.
// Lists that use all servers get every active server at DefaultFitness.
func (s *Store) ListServers(ctx context.Context, list model.MailList) ([]model.ServerWeight, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if list.AllSendingServers {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, `+strconv.Itoa(DefaultFitness)+` FROM sending_servers WHERE status = ? ORDER BY id`,
			model.ServerActive)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT s.id, m.fitness FROM mail_list_servers m
			 JOIN sending_servers s ON s.id = m.sending_server_id
			 WHERE m.mail_list_id = ? AND s.status = ?
			 ORDER BY s.id`,
			list.ID, model.ServerActive)
	}
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()
	var out []model.ServerWeight
	for rows.Next() {
		var w model.ServerWeight
		if err := rows.Scan(&w.ServerID, &w.Fitness); err != nil {
			return nil, fmt.Errorf("scan server weight: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateSubscriber inserts a subscriber.
func (s *Store) CreateSubscriber(ctx context.Context, sub model.Subscriber) (model.Subscriber, error) {
	if sub.UID == "" {
		sub.UID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = model.SubscriberSubscribed
	}
	fields, err := json.Marshal(sub.Fields)
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("encode fields: %w", err)
	}
	if sub.Fields == nil {
		fields = []byte("{}")
	}
	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscribers (uid, mail_list_id, email, status, fields) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		sub.UID, sub.MailListID, sub.Email, sub.Status, string(fields),
	).Scan(&sub.ID); err != nil {
		return model.Subscriber{}, fmt.Errorf("insert subscriber: %w", err)
	}
	return sub, nil
}

// PendingSubscribers returns the subscribed recipients of the campaign's list
// that have no tracking log for it yet, one per email address, ordered by id.
func (s *Store) PendingSubscribers(ctx context.Context, campaign model.Campaign) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.uid, s.mail_list_id, s.email, s.status, s.fields
		 FROM subscribers s
		 WHERE s.mail_list_id = ? AND s.status = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM tracking_logs t WHERE t.campaign_id = ? AND t.subscriber_id = s.id
		   )
		 ORDER BY s.id`,
		campaign.MailListID, model.SubscriberSubscribed, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending subscribers: %w", err)
	}
	defer rows.Close()
	seen := map[string]struct{}{}
	var out []model.Subscriber
	for rows.Next() {
		var (
			sub    model.Subscriber
			fields string
		)
		if err := rows.Scan(&sub.ID, &sub.UID, &sub.MailListID, &sub.Email, &sub.Status, &fields); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if _, dup := seen[sub.Email]; dup {
			continue
		}
		seen[sub.Email] = struct{}{}
		if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
			return nil, fmt.Errorf("decode fields for subscriber %d: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
