package storage

import (
	"context"

	"contractor-scraper/models"
)

// Normalizer turns a scraped listing and profile into a scored update.
// *services.Normalizer satisfies it.
type Normalizer interface {
	Update(listing models.Listing, profile models.Profile) models.Update
}

// ContractorStore is the interface any contractor storage backend must satisfy.
type ContractorStore interface {
	Save(ctx context.Context, listing models.Listing, profile models.Profile) (*models.Contractor, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Contractor, error)
	List(ctx context.Context, limit int) ([]*models.Contractor, error)
	Count(ctx context.Context) (int, error)
	Stale(ctx context.Context, days int) ([]*models.Contractor, error)
	Freshness(ctx context.Context) (models.FreshnessReport, error)
	Close() error
}

// RawWriter is the interface for persisting unprocessed scraped data.
type RawWriter interface {
	WriteRaw(records []*models.RawContractor) error
	Close() error
}

var (
	_ ContractorStore = (*Store)(nil)
	_ RawWriter       = (*CSVWriter)(nil)
)
