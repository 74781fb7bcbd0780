package storage

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autowatch/core/billing"
	"autowatch/core/monitor"
	"autowatch/core/pricing"
	"autowatch/core/types"
	"autowatch/core/vehicle"
	apperrors "autowatch/internal/errors"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newMock(t *testing.T, backend Backend) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, backend, nil), mock
}

func TestRebind(t *testing.T) {
	pg := New(nil, BackendPostgres, nil)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := New(nil, BackendSQLite, nil)
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", lite.rebind("SELECT * FROM t WHERE a = ?"))
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscriptionNotFound(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1")).
		WithArgs("sub_x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSubscription(context.Background(), "sub_x")
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscriptionScansRow(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	end := t0.AddDate(0, 1, 0)
	rows := sqlmock.NewRows([]string{
		"id", "customer_id", "customer_email", "provider_id", "checkout_session_id", "plan_id",
		"vehicles", "api_access", "billing_cycle", "amount_cents", "currency", "status",
		"current_period_end", "created_at", "updated_at",
	}).AddRow("sub_1", "cus_1", "a@example.com", "sub_stripe_1", "cs_1", "growth",
		10, true, "yearly", int64(14850), "GBP", "active", end, t0, t0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE provider_id = $1")).
		WithArgs("sub_stripe_1").
		WillReturnRows(rows)

	sub, err := s.GetSubscriptionByProviderID(context.Background(), "sub_stripe_1")
	require.NoError(t, err)
	assert.Equal(t, pricing.Yearly, sub.BillingCycle)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, types.CurrencyGBP, sub.Currency)
	assert.True(t, sub.APIAccess)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
}

func TestUpdateSubscriptionMissingRow(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions")).
		WithArgs("", "cancelled", nil, t0, "sub_x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateSubscription(context.Background(), billing.Subscription{ID: "sub_x", Status: billing.StatusCancelled, UpdatedAt: t0})
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestListingsForPlanOnlyActive(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	rows := sqlmock.NewRows([]string{"id", "subscription_id", "url", "vehicle", "last_price", "currency", "last_checked_at", "created_at"}).
		AddRow("l1", "sub_1", "https://cars.example/1", `{"make":"Ford","year":2019}`, "12995.00", "GBP", t0, t0).
		AddRow("l2", "sub_1", "https://cars.example/2", `{}`, nil, "", nil, t0)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.plan_id = $1 AND s.status = $2")).
		WithArgs("pro", "active").
		WillReturnRows(rows)

	listings, err := s.ListingsForPlan(context.Background(), "pro")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "Ford", listings[0].Vehicle.Make)
	assert.Equal(t, 2019, *listings[0].Vehicle.Year)
	assert.True(t, decimal.RequireFromString("12995").Equal(*listings[0].LastPrice))
	assert.Nil(t, listings[1].LastPrice)
	assert.Nil(t, listings[1].LastCheckedAt)
	assert.True(t, listings[1].Vehicle.IsZero())
}

func TestPrunePricePoints(t *testing.T) {
	s, mock := newMock(t, BackendSQLite)
	before := t0.AddDate(0, 0, -7)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM price_points")).
		WithArgs(before, "free").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.PrunePricePoints(context.Background(), "free", before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", nil)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, BackendSQLite, "file::memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	sub := billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PlanID: "pro", Vehicles: 30,
		BillingCycle: pricing.Monthly, AmountCents: 2325, Currency: types.CurrencyGBP,
		Status: billing.StatusPending, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	sub.Status = billing.StatusActive
	sub.ProviderID = "sub_stripe_1"
	sub.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, s.UpdateSubscription(ctx, sub))

	got, err := s.GetSubscriptionByProviderID(ctx, "sub_stripe_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status)
	assert.Equal(t, 30, got.Vehicles)

	listing := monitor.Listing{
		ID: "l1", SubscriptionID: "sub_1", URL: "https://cars.example/1",
		Vehicle:   vehicle.Vehicle{Make: "Mazda", Model: "MX-5", Year: vehicle.Int(2018), EngineSize: vehicle.Litres("2.0")},
		CreatedAt: t0,
	}
	added, err := s.AddListing(ctx, listing, 30)
	require.NoError(t, err)
	assert.True(t, added)

	listings, err := s.ListingsForPlan(ctx, "pro")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "MX-5", listings[0].Vehicle.Model)

	old := monitor.PricePoint{ListingID: "l1", Price: decimal.RequireFromString("15000"), Currency: types.CurrencyGBP, CheckedAt: t0.AddDate(-1, 0, 0)}
	recent := monitor.PricePoint{ListingID: "l1", Price: decimal.RequireFromString("14500.50"), Currency: types.CurrencyGBP, CheckedAt: t0}
	require.NoError(t, s.AddPricePoint(ctx, old))
	require.NoError(t, s.AddPricePoint(ctx, recent))
	require.NoError(t, s.MarkChecked(ctx, "l1", recent.Price, types.CurrencyGBP, t0))

	pruned, err := s.PrunePricePoints(ctx, "pro", t0.AddDate(0, -6, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	history, err := s.PriceHistory(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, recent.Price.Equal(history[0].Price))

	l, err := s.GetListing(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, l.LastPrice)
	assert.Equal(t, "14500.5", l.LastPrice.String())

	_, err = s.GetListing(ctx, "nope")
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestAddListingRefusesWhenFull(t *testing.T) {
	s, mock := newMock(t, BackendSQLite)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM listings WHERE subscription_id = ?`)).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	added, err := s.AddListing(context.Background(), monitor.Listing{ID: "l3", SubscriptionID: "sub_1", CreatedAt: t0}, 2)
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddListingLocksSubscriptionOnPostgres(t *testing.T) {
	s, mock := newMock(t, BackendPostgres)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT id FROM subscriptions WHERE id = $1 FOR UPDATE`)).
		WithArgs("sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM listings WHERE subscription_id = $1`)).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO listings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, err := s.AddListing(context.Background(), monitor.Listing{ID: "l2", SubscriptionID: "sub_1", CreatedAt: t0}, 2)
	require.NoError(t, err)
	assert.True(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddListingConcurrentInsertsStayWithinLimit(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, BackendSQLite, "file::memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PlanID: "starter", Vehicles: 2,
		BillingCycle: pricing.Monthly, Currency: types.CurrencyGBP,
		Status: billing.StatusActive, CreatedAt: t0, UpdatedAt: t0,
	}))

	var mu sync.Mutex
	accepted := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			added, err := s.AddListing(ctx, monitor.Listing{
				ID: fmt.Sprintf("l%d", i), SubscriptionID: "sub_1",
				URL: "https://cars.example/1", Currency: types.CurrencyGBP, CreatedAt: t0,
			}, 2)
			assert.NoError(t, err)
			if added {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	listings, err := s.ListingsForPlan(ctx, "starter")
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestPrunePricePointsReportsRowsAffectedError(t *testing.T) {
	s, mock := newMock(t, BackendSQLite)
	mock.ExpectExec(`DELETE FROM price_points`).
		WillReturnResult(sqlmock.NewErrorResult(fmt.Errorf("driver does not report rows")))

	_, err := s.PrunePricePoints(context.Background(), "pro", t0)
	assert.True(t, apperrors.IsType(err, apperrors.TypeInternal))
}
