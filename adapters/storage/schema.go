package storage

// schema is portable between postgres and sqlite. Money columns hold decimal
// strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id                  TEXT PRIMARY KEY,
		customer_id         TEXT NOT NULL,
		customer_email      TEXT NOT NULL DEFAULT '',
		provider_id         TEXT NOT NULL DEFAULT '',
		checkout_session_id TEXT NOT NULL DEFAULT '',
		plan_id             TEXT NOT NULL,
		vehicles            INTEGER NOT NULL,
		api_access          BOOLEAN NOT NULL DEFAULT FALSE,
		billing_cycle       TEXT NOT NULL,
		amount_cents        BIGINT NOT NULL,
		currency            TEXT NOT NULL,
		status              TEXT NOT NULL,
		current_period_end  TIMESTAMP NULL,
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_provider ON subscriptions (provider_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_status ON subscriptions (plan_id, status)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id              TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL REFERENCES subscriptions (id) ON DELETE CASCADE,
		url             TEXT NOT NULL,
		vehicle         TEXT NOT NULL DEFAULT '{}',
		last_price      TEXT NULL,
		currency        TEXT NOT NULL DEFAULT '',
		last_checked_at TIMESTAMP NULL,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_subscription ON listings (subscription_id)`,
	`CREATE TABLE IF NOT EXISTS price_points (
		listing_id TEXT NOT NULL REFERENCES listings (id) ON DELETE CASCADE,
		price      TEXT NOT NULL,
		currency   TEXT NOT NULL,
		checked_at TIMESTAMP NOT NULL,
		PRIMARY KEY (listing_id, checked_at)
	)`,
}
