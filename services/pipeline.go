package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"contractor-scraper/models"
	"contractor-scraper/scraper/gaf"
	"contractor-scraper/utils"
)

// ListingFetcher produces the listings of one search.
type ListingFetcher interface {
	FetchListings(ctx context.Context, location string, radius, limit int) ([]models.Listing, gaf.ListingReport)
}

// ProfileFetcher produces the profile behind a listing. It never fails; a
// navigation problem is reported through the outcome.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, profileURL string) (models.Profile, gaf.Outcome)
}

// ContractorSaver persists scraped contractors.
type ContractorSaver interface {
	Save(ctx context.Context, listing models.Listing, profile models.Profile) (*models.Contractor, error)
	Count(ctx context.Context) (int, error)
}

// RawRecorder keeps the unprocessed scrape output.
type RawRecorder interface {
	WriteRaw(records []*models.RawContractor) error
}

// RunResult summarises one pipeline run.
type RunResult struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	ListingsFound int
	Saved         int
	Failed        int
	Skipped       int
	ProfileErrors int
	TotalStored   int
	Confidence    map[models.Confidence]int
	Listing       gaf.ListingReport
	// Err is set when the listing page itself could not be retrieved or the
	// run was cancelled.
	Err error
}

// Pipeline scrapes listings and their profiles and stores each contractor,
// one at a time.
type Pipeline struct {
	listings ListingFetcher
	profiles ProfileFetcher
	store    ContractorSaver
	raw      RawRecorder
	clock    utils.Clock
	logger   *utils.Logger
	newID    func() string
}

// NewPipeline wires a Pipeline. raw may be nil to skip the raw export.
func NewPipeline(listings ListingFetcher, profiles ProfileFetcher, store ContractorSaver, raw RawRecorder, clock utils.Clock, logger *utils.Logger) *Pipeline {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &Pipeline{
		listings: listings,
		profiles: profiles,
		store:    store,
		raw:      raw,
		clock:    clock,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Run fetches up to limit listings around location and saves each one with
// its profile. Per-contractor failures are counted and logged; they never
// stop the run.
func (p *Pipeline) Run(ctx context.Context, location string, radius, limit int) RunResult {
	res := RunResult{
		RunID:      p.newID(),
		StartedAt:  p.clock.Now(),
		Confidence: make(map[models.Confidence]int),
	}
	p.logger.Info("[pipeline] Run %s starting: zip %s, %d mi, limit %d", res.RunID, location, radius, limit)

	listings, report := p.listings.FetchListings(ctx, location, radius, limit)
	res.Listing = report
	res.ListingsFound = len(listings)
	if report.Err != nil {
		res.Err = report.Err
	}

	for i, l := range listings {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("[pipeline] Run cancelled after %d/%d listings", i, len(listings))
			res.Err = err
			break
		}
		p.process(ctx, i+1, len(listings), l, &res)
	}

	if n, err := p.store.Count(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("[pipeline] Could not count stored contractors: %v", err)
	} else {
		res.TotalStored = n
	}
	res.FinishedAt = p.clock.Now()

	p.logger.Info("[pipeline] Run %s finished in %v: %d listings, %d saved, %d failed, %d skipped",
		res.RunID, res.FinishedAt.Sub(res.StartedAt).Round(time.Second),
		res.ListingsFound, res.Saved, res.Failed, res.Skipped)
	return res
}

func (p *Pipeline) process(ctx context.Context, n, total int, l models.Listing, res *RunResult) {
	if l.ProfileURL == "" {
		p.logger.Warn("[pipeline] [%d/%d] %s has no profile link, skipping", n, total, l.Name)
		res.Skipped++
		return
	}
	p.logger.Info("[pipeline] [%d/%d] %s", n, total, l.Name)

	profile, outcome := p.profiles.FetchProfile(ctx, l.ProfileURL)
	if outcome.Err != nil {
		// saved anyway with listing data only
		res.ProfileErrors++
	}

	if p.raw != nil {
		rec := &models.RawContractor{RunID: res.RunID, Listing: l, Profile: profile, ScrapedAt: p.clock.Now()}
		if err := p.raw.WriteRaw([]*models.RawContractor{rec}); err != nil {
			p.logger.Warn("[pipeline] Raw export failed for %s: %v", l.Name, err)
		}
	}

	c, err := p.store.Save(ctx, l, profile)
	if err != nil {
		p.logger.Error("[pipeline] Save failed for %s: %v", l.Name, err)
		res.Failed++
		return
	}
	res.Saved++
	res.Confidence[c.Confidence]++
	p.logger.Debug("[pipeline] Saved %s (id %d, external %s, confidence %s)", c.Name, c.ID, c.ExternalID, c.Confidence)
}
