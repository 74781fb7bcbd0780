package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autowatch/core/billing"
	"autowatch/core/vehicle"
	apperrors "autowatch/internal/errors"
)

// ListingStore persists tracked listings and their history
type ListingStore interface {
	// AddListing stores l unless its subscription already owns limit
	// listings; the check and insert are atomic
	AddListing(ctx context.Context, l Listing, limit int) (bool, error)
	GetListing(ctx context.Context, id string) (Listing, error)
	PriceHistory(ctx context.Context, listingID string) ([]PricePoint, error)
}

// TrackRequest adds a listing to a subscription. Listing may be a plain URL
// or a packed listing string; a non-empty Vehicle overrides packed attributes.
type TrackRequest struct {
	SubscriptionID string          `json:"subscription_id"`
	Listing        string          `json:"listing"`
	Vehicle        vehicle.Vehicle `json:"vehicle"`
}

// History is a listing with its stored price points, oldest first
type History struct {
	Listing Listing      `json:"listing"`
	Points  []PricePoint `json:"points"`
}

// Tracker enforces plan quotas when listings are added
type Tracker struct {
	subs     billing.Store
	listings ListingStore
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewTracker creates a tracker
func NewTracker(subs billing.Store, listings ListingStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		subs:     subs,
		listings: listings,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Track validates and stores a new listing. The subscription must be active
// and below its vehicle allowance.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (Listing, error) {
	listingURL, v, err := vehicle.ParsePacked(req.Listing)
	if err != nil {
		return Listing{}, err
	}
	if !req.Vehicle.IsZero() {
		if err := req.Vehicle.Validate(); err != nil {
			return Listing{}, err
		}
		v = req.Vehicle
	}

	sub, err := t.subs.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return Listing{}, err
	}
	if !sub.IsActive() {
		return Listing{}, apperrors.Newf(apperrors.TypeNotSupported, "subscription %s is %s", sub.ID, sub.Status)
	}

	l := Listing{
		ID:             t.newID(),
		SubscriptionID: sub.ID,
		URL:            listingURL,
		Vehicle:        v,
		Currency:       sub.Currency,
		CreatedAt:      t.now().UTC(),
	}
	added, err := t.listings.AddListing(ctx, l, sub.Vehicles)
	if err != nil {
		return Listing{}, err
	}
	if !added {
		return Listing{}, apperrors.Newf(apperrors.TypeNotSupported,
			"plan %s allows %d vehicles and all are in use", sub.PlanID, sub.Vehicles)
	}

	t.logger.Info("listing tracked",
		zap.String("listing", l.ID),
		zap.String("subscription", sub.ID),
		zap.String("vehicle", v.Title()))
	return l, nil
}

// History returns a listing and its price points
func (t *Tracker) History(ctx context.Context, listingID string) (History, error) {
	l, err := t.listings.GetListing(ctx, listingID)
	if err != nil {
		return History{}, err
	}
	points, err := t.listings.PriceHistory(ctx, listingID)
	if err != nil {
		return History{}, err
	}
	return History{Listing: l, Points: points}, nil
}
