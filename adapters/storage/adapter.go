// Package storage provides the SQL storage adapter for subscriptions, tracked
// listings and price history. Supports PostgreSQL and SQLite backends.
package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"autowatch/core/billing"
	"autowatch/core/monitor"
	"autowatch/core/pricing"
	"autowatch/core/types"
	"autowatch/core/vehicle"
	apperrors "autowatch/internal/errors"
)

// Backend is a storage backend type
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Store is the storage interface
type Store interface {
	billing.Store
	monitor.Store
	monitor.ListingStore

	// Close closes the store
	Close() error
}

// SQLStore implements Store on database/sql
type SQLStore struct {
	db      *sql.DB
	backend Backend
	logger  *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database and applies the schema
func Open(ctx context.Context, backend Backend, dsn string, logger *zap.Logger) (*SQLStore, error) {
	switch backend {
	case BackendPostgres, BackendSQLite:
	default:
		return nil, apperrors.Newf(apperrors.TypeConfig, "unsupported storage backend %q", backend)
	}

	if backend == BackendSQLite && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.TypeConfig, "failed to create database directory", err)
		}
	}

	db, err := sql.Open(string(backend), dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeConfig, "failed to open database", err)
	}
	if backend == BackendSQLite {
		// a single writer keeps sqlite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Network("failed to reach database", err)
	}

	s := New(db, backend, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database
func New(db *sql.DB, backend Backend, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, backend: backend, logger: logger}
}

// Migrate creates missing tables
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.Wrap(apperrors.TypeInternal, "failed to apply schema", err)
		}
	}
	s.logger.Debug("schema applied", zap.String("backend", string(s.backend)))
	return nil
}

// Close closes the store
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for postgres
func (s *SQLStore) rebind(query string) string {
	if s.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Subscriptions

const subscriptionColumns = `id, customer_id, customer_email, provider_id, checkout_session_id, plan_id,
	vehicles, api_access, billing_cycle, amount_cents, currency, status, current_period_end, created_at, updated_at`

// CreateSubscription inserts a subscription
func (s *SQLStore) CreateSubscription(ctx context.Context, sub billing.Subscription) error {
	_, err := s.exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.CustomerID, sub.CustomerEmail, sub.ProviderID, sub.CheckoutSessionID, sub.PlanID,
		sub.Vehicles, sub.APIAccess, string(sub.BillingCycle), sub.AmountCents, string(sub.Currency),
		string(sub.Status), nullTime(sub.CurrentPeriodEnd), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	if err != nil {
		return apperrors.Wrapf(apperrors.TypeInternal, err, "failed to create subscription %s", sub.ID)
	}
	return nil
}

// GetSubscription loads a subscription by ID
func (s *SQLStore) GetSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	row := s.queryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row, id)
}

// GetSubscriptionByProviderID loads a subscription by the provider's ID
func (s *SQLStore) GetSubscriptionByProviderID(ctx context.Context, providerID string) (billing.Subscription, error) {
	row := s.queryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_id = ?`, providerID)
	return scanSubscription(row, providerID)
}

// UpdateSubscription saves the mutable fields of a subscription
func (s *SQLStore) UpdateSubscription(ctx context.Context, sub billing.Subscription) error {
	res, err := s.exec(ctx, `UPDATE subscriptions
		SET provider_id = ?, status = ?, current_period_end = ?, updated_at = ?
		WHERE id = ?`,
		sub.ProviderID, string(sub.Status), nullTime(sub.CurrentPeriodEnd), sub.UpdatedAt.UTC(), sub.ID)
	if err != nil {
		return apperrors.Wrapf(apperrors.TypeInternal, err, "failed to update subscription %s", sub.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("subscription", sub.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner, key string) (billing.Subscription, error) {
	var (
		sub       billing.Subscription
		cycle     string
		currency  string
		status    string
		periodEnd sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.CustomerID, &sub.CustomerEmail, &sub.ProviderID, &sub.CheckoutSessionID,
		&sub.PlanID, &sub.Vehicles, &sub.APIAccess, &cycle, &sub.AmountCents, &currency, &status,
		&periodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, apperrors.NotFound("subscription", key)
	}
	if err != nil {
		return billing.Subscription{}, apperrors.Wrap(apperrors.TypeInternal, "failed to read subscription", err)
	}
	sub.BillingCycle = pricing.BillingCycle(cycle)
	sub.Currency = types.Currency(currency)
	sub.Status = billing.Status(status)
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		sub.CurrentPeriodEnd = &t
	}
	return sub, nil
}

// Listings

const listingColumns = `l.id, l.subscription_id, l.url, l.vehicle, l.last_price, l.currency, l.last_checked_at, l.created_at`

// AddListing inserts a tracked listing unless its subscription already owns
// limit listings. It reports whether the listing was stored.
func (s *SQLStore) AddListing(ctx context.Context, l monitor.Listing, limit int) (bool, error) {
	data, err := vehicle.Marshal(l.Vehicle)
	if err != nil {
		return false, apperrors.Wrap(apperrors.TypeInternal, "failed to encode vehicle", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.TypeInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// sqlite runs on a single connection, so the transaction alone serializes writers
	if s.backend == BackendPostgres {
		if _, err := tx.ExecContext(ctx, s.rebind(`SELECT id FROM subscriptions WHERE id = ? FOR UPDATE`), l.SubscriptionID); err != nil {
			return false, apperrors.Wrapf(apperrors.TypeInternal, err, "failed to lock subscription %s", l.SubscriptionID)
		}
	}

	var n int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM listings WHERE subscription_id = ?`), l.SubscriptionID).Scan(&n); err != nil {
		return false, apperrors.Wrap(apperrors.TypeInternal, "failed to count listings", err)
	}
	if n >= limit {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO listings (id, subscription_id, url, vehicle, last_price, currency, last_checked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.SubscriptionID, l.URL, string(data), nullDecimal(l.LastPrice), string(l.Currency),
		nullTime(l.LastCheckedAt), l.CreatedAt.UTC())
	if err != nil {
		return false, apperrors.Wrapf(apperrors.TypeInternal, err, "failed to add listing %s", l.ID)
	}
	if err := tx.Commit(); err != nil {
		return false, apperrors.Wrapf(apperrors.TypeInternal, err, "failed to commit listing %s", l.ID)
	}
	return true, nil
}

// GetListing loads a listing by ID
func (s *SQLStore) GetListing(ctx context.Context, id string) (monitor.Listing, error) {
	row := s.queryRow(ctx, `SELECT `+listingColumns+` FROM listings l WHERE l.id = ?`, id)
	l, err := scanListing(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return monitor.Listing{}, apperrors.NotFound("listing", id)
	}
	return l, err
}

// ListingsForPlan returns listings owned by active subscriptions on plan
func (s *SQLStore) ListingsForPlan(ctx context.Context, planID string) ([]monitor.Listing, error) {
	rows, err := s.query(ctx, `SELECT `+listingColumns+`
		FROM listings l JOIN subscriptions s ON s.id = l.subscription_id
		WHERE s.plan_id = ? AND s.status = ?
		ORDER BY l.created_at, l.id`, planID, string(billing.StatusActive))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeInternal, "failed to list listings", err)
	}
	defer rows.Close()

	var out []monitor.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.TypeInternal, "failed to list listings", err)
	}
	return out, nil
}

// MarkChecked records the latest observed price on a listing
func (s *SQLStore) MarkChecked(ctx context.Context, listingID string, price decimal.Decimal, currency types.Currency, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE listings SET last_price = ?, currency = ?, last_checked_at = ? WHERE id = ?`,
		price.String(), string(currency), at.UTC(), listingID)
	if err != nil {
		return apperrors.Wrapf(apperrors.TypeInternal, err, "failed to update listing %s", listingID)
	}
	return nil
}

func scanListing(row scanner) (monitor.Listing, error) {
	var (
		l         monitor.Listing
		data      string
		lastPrice decimal.NullDecimal
		currency  string
		checked   sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.SubscriptionID, &l.URL, &data, &lastPrice, &currency, &checked, &l.CreatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, apperrors.Wrap(apperrors.TypeInternal, "failed to read listing", err)
	}
	v, err := vehicle.Unmarshal([]byte(data))
	if err != nil {
		return l, err
	}
	l.Vehicle = v
	l.Currency = types.Currency(currency)
	if lastPrice.Valid {
		p := lastPrice.Decimal
		l.LastPrice = &p
	}
	if checked.Valid {
		t := checked.Time.UTC()
		l.LastCheckedAt = &t
	}
	return l, nil
}

// Price points

// AddPricePoint stores an observed price
func (s *SQLStore) AddPricePoint(ctx context.Context, p monitor.PricePoint) error {
	_, err := s.exec(ctx, `INSERT INTO price_points (listing_id, price, currency, checked_at) VALUES (?, ?, ?, ?)`,
		p.ListingID, p.Price.String(), string(p.Currency), p.CheckedAt.UTC())
	if err != nil {
		return apperrors.Wrapf(apperrors.TypeInternal, err, "failed to store price for listing %s", p.ListingID)
	}
	return nil
}

// PriceHistory returns a listing's price points, oldest first
func (s *SQLStore) PriceHistory(ctx context.Context, listingID string) ([]monitor.PricePoint, error) {
	rows, err := s.query(ctx, `SELECT listing_id, price, currency, checked_at
		FROM price_points WHERE listing_id = ? ORDER BY checked_at`, listingID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeInternal, "failed to read price history", err)
	}
	defer rows.Close()

	var out []monitor.PricePoint
	for rows.Next() {
		var (
			p        monitor.PricePoint
			currency string
		)
		if err := rows.Scan(&p.ListingID, &p.Price, &currency, &p.CheckedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.TypeInternal, "failed to read price point", err)
		}
		p.Currency = types.Currency(currency)
		p.CheckedAt = p.CheckedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.TypeInternal, "failed to read price history", err)
	}
	return out, nil
}

// PrunePricePoints deletes points older than before for listings on plan
func (s *SQLStore) PrunePricePoints(ctx context.Context, planID string, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM price_points
		WHERE checked_at < ? AND listing_id IN (
			SELECT l.id FROM listings l JOIN subscriptions s ON s.id = l.subscription_id WHERE s.plan_id = ?
		)`, before.UTC(), planID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.TypeInternal, "failed to prune price points", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.TypeInternal, "failed to count pruned price points", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
