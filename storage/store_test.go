package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-scraper/models"
	"contractor-scraper/services"
	"contractor-scraper/utils"
)

func setup(t *testing.T) (*Store, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s, err := Open(context.Background(), DriverSQLite, ":memory:", Options{
		Normalizer: services.NewNormalizer(clock, nil),
		Clock:      clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func sampleListing(id string, certs ...string) models.Listing {
	return models.Listing{
		Name:           "Preferred Exterior Corp",
		Rating:         floatPtr(4.8),
		ReviewCount:    244,
		City:           "Elmhurst",
		State:          "NY",
		Certifications: certs,
		ProfileURL:     "https://www.gaf.com/en-us/roofing-contractors/residential/usa/ny/elmhurst/preferred-exterior-corp-" + id,
		ExternalID:     id,
	}
}

func sampleProfile() models.Profile {
	return models.Profile{
		YearsInBusiness:   intPtr(125),
		BusinessStartYear: intPtr(1899),
		EmployeeRange:     "11-50",
		LicenseNumber:     "NJ-13VH01234500",
		Address:           "20 Parish Dr, Wayne NJ, 07470 USA",
		Phone:             "tel:+19735663007",
		AboutText:         "Family owned.",
		ReviewSnippets:    []string{"Great crew.", "On time."},
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	n, err := s.count(context.Background(), `SELECT COUNT(*) FROM `+table)
	require.NoError(t, err)
	return n
}

func TestSaveCreatesContractor(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	c, err := s.Save(ctx, sampleListing("1004859", "Master Elite® Contractor", "President's Club Award"), sampleProfile())
	require.NoError(t, err)

	assert.NotZero(t, c.ID)
	assert.Equal(t, models.ConfidenceHigh, c.Confidence)
	assert.Equal(t, "9735663007", c.Phone)
	require.Len(t, c.Certifications, 2)
	assert.Equal(t, "Master Elite", c.Certifications[0].Name)
	assert.Equal(t, "Master Elite® Contractor", c.Certifications[0].OriginalText)
	require.NotNil(t, c.Text)
	assert.Equal(t, "Great crew.\n\n---\n\nOn time.", c.Text.ReviewSnippets)

	found, err := s.FindByExternalID(ctx, "1004859")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)
	assert.Equal(t, "Preferred Exterior Corp", found.Name)
	assert.Equal(t, 4.8, *found.Rating)
	assert.Equal(t, 1899, *found.BusinessStartYear)
	assert.Equal(t, c.LastScrapedAt, found.LastScrapedAt)
	require.Len(t, found.Certifications, 2)
	assert.Equal(t, "President's Club Award", found.Certifications[1].Name)
	require.NotNil(t, found.Text)
	assert.Equal(t, []string{"Great crew.", "On time."}, found.Text.Snippets())
}

func TestSaveTwiceUpdatesInPlace(t *testing.T) {
	s, clock := setup(t)
	ctx := context.Background()

	first, err := s.Save(ctx, sampleListing("1004859", "Master Elite", "Certified"), sampleProfile())
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	update := sampleListing("1004859", "Triple Excellence Award")
	update.Rating = nil
	second, err := s.Save(ctx, update, models.Profile{EmployeeRange: "51-200"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.LastScrapedAt.After(first.LastScrapedAt))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countRows(t, s, "certifications"))
	assert.Equal(t, 1, countRows(t, s, "contractor_text"))

	found, err := s.FindByExternalID(ctx, "1004859")
	require.NoError(t, err)
	require.Len(t, found.Certifications, 1)
	assert.Equal(t, "Triple Excellence Award", found.Certifications[0].Name)
	assert.Equal(t, 4.8, *found.Rating, "nil rating does not overwrite")
	assert.Equal(t, "20 Parish Dr, Wayne NJ, 07470 USA", found.Address)
	assert.Equal(t, "51-200", found.EmployeeRange)
	assert.Equal(t, models.ConfidenceLow, found.Confidence, "confidence reflects the latest scrape")
	assert.Equal(t, "Family owned.", found.Text.AboutText, "empty about text keeps the stored one")
	assert.Equal(t, second.LastScrapedAt, found.LastScrapedAt)
}

func TestSaveEmptyCertificationsClearsSet(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleListing("1", "Certified"), sampleProfile())
	require.NoError(t, err)
	_, err = s.Save(ctx, sampleListing("1"), sampleProfile())
	require.NoError(t, err)

	assert.Equal(t, 0, countRows(t, s, "certifications"))
}

func TestSaveWithoutExternalIDAlwaysCreates(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	l := sampleListing("")
	l.ProfileURL = ""
	a, err := s.Save(ctx, l, models.Profile{})
	require.NoError(t, err)
	b, err := s.Save(ctx, l, models.Profile{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaveRollsBackOnConstraintViolation(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER reject_cert BEFORE INSERT ON certifications
		WHEN NEW.name = 'reject'
		BEGIN SELECT RAISE(ABORT, 'rejected certification'); END`)
	require.NoError(t, err)

	u := services.NewNormalizer(nil, nil).Update(sampleListing("77"), sampleProfile())
	u.Certifications = []models.Certification{{Name: "reject", OriginalText: "reject"}}

	c, err := s.SaveUpdate(ctx, u)
	require.Nil(t, c)
	require.ErrorIs(t, err, ErrIntegrity)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, countRows(t, s, "contractor_text"))

	_, err = s.FindByExternalID(ctx, "77")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFreshnessEmpty(t *testing.T) {
	s, _ := setup(t)

	r, err := s.Freshness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.FreshnessReport{}, r)
	assert.Equal(t, 0.0, r.FreshnessRate30d)
}

func TestFreshnessAndStale(t *testing.T) {
	s, clock := setup(t)
	ctx := context.Background()
	day := 24 * time.Hour

	for _, step := range []struct {
		id      string
		advance time.Duration
	}{{"1", 0}, {"2", 80 * day}, {"3", 19 * day}} {
		clock.Advance(step.advance)
		_, err := s.Save(ctx, sampleListing(step.id), sampleProfile())
		require.NoError(t, err)
	}
	clock.Advance(day)
	// ages are now 100, 20 and 1 days

	r, err := s.Freshness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 1, r.Fresh7d)
	assert.Equal(t, 2, r.Fresh30d)
	assert.Equal(t, 2, r.Fresh90d)
	assert.Equal(t, 1, r.Stale30d)
	assert.Equal(t, 1, r.Stale90d)
	assert.InDelta(t, 66.67, r.FreshnessRate30d, 0.01)

	stale, err := s.Stale(ctx, 30)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "1", stale[0].ExternalID)

	stale, err = s.Stale(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, []string{"1", "2"}, []string{stale[0].ExternalID, stale[1].ExternalID})
}

func TestListAndCount(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	for _, id := range []string{"10", "11", "12"} {
		_, err := s.Save(ctx, sampleListing(id), models.Profile{})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "10", some[0].ExternalID)
}

func TestFindByExternalIDNotFound(t *testing.T) {
	s, _ := setup(t)
	_, err := s.FindByExternalID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInspect(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleListing("5", "Certified"), sampleProfile())
	require.NoError(t, err)

	stats, err := s.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "contractors", stats[0].Table)
	assert.Equal(t, 1, stats[0].Rows)
	assert.Equal(t, "Preferred Exterior Corp", stats[0].Sample["contractor_name"])
	assert.Equal(t, "Certified", stats[1].Sample["name"])
	assert.Equal(t, "Family owned.", stats[2].Sample["about_text"])
}

func TestInspectEmptyTables(t *testing.T) {
	s, _ := setup(t)
	stats, err := s.Inspect(context.Background())
	require.NoError(t, err)
	for _, st := range stats {
		assert.Zero(t, st.Rows, st.Table)
		assert.Nil(t, st.Sample, st.Table)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", Options{})
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT id FROM contractors WHERE state = ? AND last_scraped_at < ? LIMIT ?`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t,
		`SELECT id FROM contractors WHERE state = $1 AND last_scraped_at < $2 LIMIT $3`,
		postgresDialect.rebind(q))
}

func TestIntegrityClassification(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	insert := `INSERT INTO contractors (external_contractor_id, contractor_name, data_confidence, last_scraped_at, created_at)
		VALUES ('dup', 'A', 'low', ?, ?)`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, insert, now, now)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, insert, now, now)
	require.Error(t, err)

	assert.ErrorIs(t, s.fail("insert", err), ErrIntegrity)
	assert.NotErrorIs(t, s.fail("other", errors.New("boom")), ErrIntegrity)
}
