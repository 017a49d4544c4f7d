package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mailpace/internal/model"
)

// CreatePlan inserts a plan and returns it with its id.
func (s *Store) CreatePlan(ctx context.Context, plan model.Plan) (model.Plan, error) {
	if plan.MaxProcess <= 0 {
		plan.MaxProcess = 1
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO plans (name, email_max, sending_quota, sending_quota_time, sending_quota_time_unit, max_process)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		plan.Name, plan.EmailMax, plan.SendingQuota, plan.SendingQuotaTime, plan.SendingQuotaTimeUnit, plan.MaxProcess,
	).Scan(&plan.ID)
	if err != nil {
		return model.Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	return plan, nil
}

// CreateCustomer inserts a customer and, when present, its subscription. The
// subscription's plan must already exist.
func (s *Store) CreateCustomer(ctx context.Context, customer model.Customer) (model.Customer, error) {
	if customer.UID == "" {
		customer.UID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Customer{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO customers (uid, name) VALUES (?, ?) RETURNING id`,
		customer.UID, customer.Name,
	).Scan(&customer.ID); err != nil {
		return model.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	if sub := customer.Subscription; sub != nil {
		if sub.Status == "" {
			sub.Status = model.SubscriptionActive
		}
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO subscriptions (customer_id, plan_id, status, start_date, end_date)
			 VALUES (?, ?, ?, ?, ?) RETURNING id`,
			customer.ID, sub.Plan.ID, sub.Status, sub.StartDate.UTC(), nullableTime(sub.EndDate),
		).Scan(&sub.ID); err != nil {
			return model.Customer{}, fmt.Errorf("insert subscription: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Customer{}, fmt.Errorf("commit customer: %w", err)
	}
	return customer, nil
}

const customerColumns = `id, uid, name`

// Customer loads a customer and its most recent subscription.
func (s *Store) Customer(ctx context.Context, id int64) (model.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	return s.loadCustomer(ctx, row, id)
}

// CustomerByUID loads a customer by uid.
func (s *Store) CustomerByUID(ctx context.Context, uid string) (model.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE uid = ?`, uid)
	return s.loadCustomer(ctx, row, uid)
}

func (s *Store) loadCustomer(ctx context.Context, row scanner, key any) (model.Customer, error) {
	var customer model.Customer
	if err := row.Scan(&customer.ID, &customer.UID, &customer.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, notFound("customer", key)
		}
		return model.Customer{}, fmt.Errorf("load customer: %w", err)
	}
	sub, err := s.subscription(ctx, customer.ID)
	if err != nil {
		return model.Customer{}, err
	}
	customer.Subscription = sub
	return customer, nil
}

func (s *Store) subscription(ctx context.Context, customerID int64) (*model.Subscription, error) {
	var (
		sub model.Subscription
		end sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.status, s.start_date, s.end_date,
		        p.id, p.name, p.email_max, p.sending_quota, p.sending_quota_time, p.sending_quota_time_unit, p.max_process
		 FROM subscriptions s JOIN plans p ON p.id = s.plan_id
		 WHERE s.customer_id = ?
		 ORDER BY s.start_date DESC, s.id DESC
		 LIMIT 1`,
		customerID,
	).Scan(&sub.ID, &sub.Status, &sub.StartDate, &end,
		&sub.Plan.ID, &sub.Plan.Name, &sub.Plan.EmailMax, &sub.Plan.SendingQuota,
		&sub.Plan.SendingQuotaTime, &sub.Plan.SendingQuotaTimeUnit, &sub.Plan.MaxProcess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = timeOrZero(end)
	return &sub, nil
}

// CreateSendingServer inserts a sending server.
func (s *Store) CreateSendingServer(ctx context.Context, server model.SendingServer) (model.SendingServer, error) {
	if server.UID == "" {
		server.UID = uuid.NewString()
	}
	if server.Status == "" {
		server.Status = model.ServerActive
	}
	if server.Type == "" {
		server.Type = model.ServerTypeLog
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sending_servers (uid, name, type, status, host, port, username, password, quota_value, quota_base, quota_unit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		server.UID, server.Name, server.Type, server.Status, server.Host, server.Port,
		server.Username, server.Password, server.QuotaValue, server.QuotaBase, server.QuotaUnit,
	).Scan(&server.ID)
	if err != nil {
		return model.SendingServer{}, fmt.Errorf("insert sending server: %w", err)
	}
	return server, nil
}

const serverColumns = `id, uid, name, type, status, host, port, username, password, quota_value, quota_base, quota_unit`

func scanServer(row scanner) (model.SendingServer, error) {
	var server model.SendingServer
	err := row.Scan(&server.ID, &server.UID, &server.Name, &server.Type, &server.Status,
		&server.Host, &server.Port, &server.Username, &server.Password,
		&server.QuotaValue, &server.QuotaBase, &server.QuotaUnit)
	return server, err
}

// SendingServer loads a server by id.
func (s *Store) SendingServer(ctx context.Context, id int64) (model.SendingServer, error) {
	server, err := scanServer(s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM sending_servers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SendingServer{}, notFound("sending server", id)
	}
	if err != nil {
		return model.SendingServer{}, fmt.Errorf("load sending server: %w", err)
	}
	return server, nil
}

// SendingServerByUID loads a server by uid.
func (s *Store) SendingServerByUID(ctx context.Context, uid string) (model.SendingServer, error) {
	server, err := scanServer(s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM sending_servers WHERE uid = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SendingServer{}, notFound("sending server", uid)
	}
	if err != nil {
		return model.SendingServer{}, fmt.Errorf("load sending server: %w", err)
	}
	return server, nil
}

// ActiveSendingServers lists servers eligible for delivery, ordered by id.
func (s *Store) ActiveSendingServers(ctx context.Context) ([]model.SendingServer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM sending_servers WHERE status = ? ORDER BY id`, model.ServerActive)
	if err != nil {
		return nil, fmt.Errorf("list sending servers: %w", err)
	}
	defer rows.Close()
	var out []model.SendingServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sending server: %w", err)
		}
		out = append(out, server)
	}
	return out, rows.Err()
}
