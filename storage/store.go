package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"contractor-scraper/models"
	"contractor-scraper/utils"
)

var (
	// ErrIntegrity wraps uniqueness and other constraint violations.
	ErrIntegrity = errors.New("integrity violation")
	// ErrNotFound is returned by lookups that match no contractor.
	ErrNotFound = errors.New("contractor not found")
)

// Tables lists the persisted tables in dependency order.
var Tables = []string{"contractors", "certifications", "contractor_text"}

const contractorColumns = `id, external_contractor_id, contractor_name, rating, review_count,
	city, state, profile_url, years_in_business, business_start_year, employee_range,
	state_license_number, address, phone, data_confidence, last_scraped_at, created_at`

// Options configures a Store.
type Options struct {
	Normalizer   Normalizer
	Clock        utils.Clock
	Logger       *utils.Logger
	PingAttempts int
	PingDelay    time.Duration
}

// Store persists contractors with their certifications and text blob.
type Store struct {
	db     *sql.DB
	d      dialect
	norm   Normalizer
	clock  utils.Clock
	logger *utils.Logger
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the database, waits for it to answer a ping and creates
// the schema when missing.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.Discard()
	}
	if opts.PingAttempts < 1 {
		opts.PingAttempts = 10
	}
	if opts.PingDelay <= 0 {
		opts.PingDelay = time.Second
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.name, err)
	}
	if d.singleConnect {
		db.SetMaxOpenConns(1)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: opts.PingAttempts,
		BaseDelay:   opts.PingDelay,
		Logger:      opts.Logger,
		Clock:       opts.Clock,
	}
	if err := retry.Do(ctx, d.name+" ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, d: d, norm: opts.Normalizer, clock: opts.Clock, logger: opts.Logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// fail classifies a database error, wrapping constraint violations in
// ErrIntegrity.
func (s *Store) fail(op string, err error) error {
	if s.d.isConstraint(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrIntegrity, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Save normalises a scraped listing and profile and upserts the result.
func (s *Store) Save(ctx context.Context, listing models.Listing, profile models.Profile) (*models.Contractor, error) {
	if s.norm == nil {
		return nil, errors.New("store: no normalizer configured")
	}
	return s.SaveUpdate(ctx, s.norm.Update(listing, profile))
}

// SaveUpdate upserts a normalised update keyed on its external id in one
// transaction: the contractor row is created or merged, its certifications
// are replaced and its text blob is created or updated. Nothing is written
// when any step fails.
func (s *Store) SaveUpdate(ctx context.Context, u models.Update) (_ *models.Contractor, err error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("[store] Rollback failed: %v", rbErr)
			}
		}
	}()

	var existing *models.Contractor
	if id := u.Listing.ExternalID; id != "" {
		existing, err = s.findRow(ctx, tx, "external_contractor_id = ?", id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, s.fail("lookup", err)
		}
		err = nil
	}

	var c models.Contractor
	if existing != nil {
		c = Merge(*existing, u, now)
		err = s.updateContractor(ctx, tx, c)
	} else {
		c = NewContractor(u, now)
		c.ID, err = s.insertContractor(ctx, tx, c)
	}
	if err != nil {
		return nil, s.fail("save contractor", err)
	}

	if c.Certifications, err = s.replaceCertifications(ctx, tx, c.ID, c.Certifications, now); err != nil {
		return nil, s.fail("save certifications", err)
	}

	prev, err := s.loadText(ctx, tx, c.ID)
	if err != nil {
		return nil, s.fail("load text", err)
	}
	text := MergeText(prev, c.ID, u.Profile, now)
	if text.ID, err = s.saveText(ctx, tx, text); err != nil {
		return nil, s.fail("save text", err)
	}
	c.Text = &text

	if err = tx.Commit(); err != nil {
		return nil, s.fail("commit", err)
	}
	return &c, nil
}

func (s *Store) insertContractor(ctx context.Context, q queryer, c models.Contractor) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO contractors (
			external_contractor_id, contractor_name, rating, review_count, city, state,
			profile_url, years_in_business, business_start_year, employee_range,
			state_license_number, address, phone, data_confidence, last_scraped_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		nullString(c.ExternalID), c.Name, nullFloat(c.Rating), c.ReviewCount,
		nullString(c.City), nullString(c.State), nullString(c.ProfileURL),
		nullInt(c.YearsInBusiness), nullInt(c.BusinessStartYear), nullString(c.EmployeeRange),
		nullString(c.LicenseNumber), nullString(c.Address), nullString(c.Phone),
		string(c.Confidence), c.LastScrapedAt, c.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *Store) updateContractor(ctx context.Context, q queryer, c models.Contractor) error {
	_, err := q.ExecContext(ctx, s.d.rebind(`
		UPDATE contractors SET
			contractor_name = ?, rating = ?, review_count = ?, city = ?, state = ?,
			profile_url = ?, years_in_business = ?, business_start_year = ?, employee_range = ?,
			state_license_number = ?, address = ?, phone = ?, data_confidence = ?,
			last_scraped_at = ?
		WHERE id = ?`),
		c.Name, nullFloat(c.Rating), c.ReviewCount, nullString(c.City), nullString(c.State),
		nullString(c.ProfileURL), nullInt(c.YearsInBusiness), nullInt(c.BusinessStartYear),
		nullString(c.EmployeeRange), nullString(c.LicenseNumber), nullString(c.Address),
		nullString(c.Phone), string(c.Confidence), c.LastScrapedAt, c.ID,
	)
	return err
}

// replaceCertifications deletes every certification of contractorID and
// inserts certs in their place.
func (s *Store) replaceCertifications(ctx context.Context, q queryer, contractorID int64, certs []models.Certification, now time.Time) ([]models.Certification, error) {
	if _, err := q.ExecContext(ctx, s.d.rebind(`DELETE FROM certifications WHERE contractor_id = ?`), contractorID); err != nil {
		return nil, err
	}
	out := make([]models.Certification, 0, len(certs))
	for _, cert := range certs {
		cert.ContractorID = contractorID
		cert.CreatedAt = now
		err := q.QueryRowContext(ctx, s.d.rebind(`
			INSERT INTO certifications (contractor_id, name, original_text, created_at)
			VALUES (?, ?, ?, ?) RETURNING id`),
			contractorID, cert.Name, nullString(cert.OriginalText), now,
		).Scan(&cert.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}

func (s *Store) saveText(ctx context.Context, q queryer, t models.ContractorText) (int64, error) {
	if t.ID != 0 {
		_, err := q.ExecContext(ctx, s.d.rebind(`
			UPDATE contractor_text SET about_text = ?, review_snippets = ?, updated_at = ?
			WHERE id = ?`),
			nullString(t.AboutText), nullString(t.ReviewSnippets), t.UpdatedAt, t.ID,
		)
		return t.ID, err
	}
	var id int64
	err := q.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO contractor_text (contractor_id, about_text, review_snippets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		t.ContractorID, nullString(t.AboutText), nullString(t.ReviewSnippets), t.CreatedAt, t.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (s *Store) loadText(ctx context.Context, q queryer, contractorID int64) (*models.ContractorText, error) {
	var (
		t              models.ContractorText
		about, reviews sql.NullString
	)
	err := q.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, contractor_id, about_text, review_snippets, created_at, updated_at
		FROM contractor_text WHERE contractor_id = ?`), contractorID,
	).Scan(&t.ID, &t.ContractorID, &about, &reviews, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.AboutText, t.ReviewSnippets = about.String, reviews.String
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return &t, nil
}

func (s *Store) loadCertifications(ctx context.Context, q queryer, contractorID int64) ([]models.Certification, error) {
	rows, err := q.QueryContext(ctx, s.d.rebind(`
		SELECT id, contractor_id, name, original_text, created_at
		FROM certifications WHERE contractor_id = ? ORDER BY id`), contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []models.Certification
	for rows.Next() {
		var (
			c        models.Certification
			original sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ContractorID, &c.Name, &original, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.OriginalText = original.String
		c.CreatedAt = c.CreatedAt.UTC()
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// findRow loads a single contractor row without its children.
func (s *Store) findRow(ctx context.Context, q queryer, where string, args ...any) (*models.Contractor, error) {
	row := q.QueryRowContext(ctx, s.d.rebind(`SELECT `+contractorColumns+` FROM contractors WHERE `+where), args...)
	c, err := scanContractor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindByExternalID loads a contractor with its certifications and text.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*models.Contractor, error) {
	c, err := s.findRow(ctx, s.db, "external_contractor_id = ?", externalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
		}
		return nil, s.fail("find", err)
	}
	if c.Certifications, err = s.loadCertifications(ctx, s.db, c.ID); err != nil {
		return nil, s.fail("find certifications", err)
	}
	if c.Text, err = s.loadText(ctx, s.db, c.ID); err != nil {
		return nil, s.fail("find text", err)
	}
	return c, nil
}

// List returns stored contractors in insertion order, at most limit when
// limit > 0.
func (s *Store) List(ctx context.Context, limit int) ([]*models.Contractor, error) {
	query := `SELECT ` + contractorColumns + ` FROM contractors ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryContractors(ctx, query, args...)
}

// Count returns the number of stored contractors.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM contractors`)
}

// Stale returns contractors last scraped more than days ago.
func (s *Store) Stale(ctx context.Context, days int) ([]*models.Contractor, error) {
	cutoff := s.now().AddDate(0, 0, -days)
	return s.queryContractors(ctx,
		`SELECT `+contractorColumns+` FROM contractors WHERE last_scraped_at < ? ORDER BY last_scraped_at, id`, cutoff)
}

// Freshness summarises scrape recency over all stored contractors.
func (s *Store) Freshness(ctx context.Context) (models.FreshnessReport, error) {
	var r models.FreshnessReport
	total, err := s.Count(ctx)
	if err != nil || total == 0 {
		return r, err
	}
	r.Total = total

	now := s.now()
	for _, w := range []struct {
		days int
		dst  *int
	}{{7, &r.Fresh7d}, {30, &r.Fresh30d}, {90, &r.Fresh90d}} {
		n, err := s.count(ctx, `SELECT COUNT(*) FROM contractors WHERE last_scraped_at > ?`, now.AddDate(0, 0, -w.days))
		if err != nil {
			return models.FreshnessReport{}, err
		}
		*w.dst = n
	}
	r.Stale30d = total - r.Fresh30d
	r.Stale90d = total - r.Fresh90d
	r.FreshnessRate30d = float64(r.Fresh30d) / float64(total) * 100
	return r, nil
}

// Inspect returns the row count and first row of every table.
func (s *Store) Inspect(ctx context.Context) ([]models.TableStats, error) {
	stats := make([]models.TableStats, 0, len(Tables))
	for _, table := range Tables {
		n, err := s.count(ctx, `SELECT COUNT(*) FROM `+table)
		if err != nil {
			return nil, err
		}
		sample, err := s.sampleRow(ctx, table)
		if err != nil {
			return nil, err
		}
		stats = append(stats, models.TableStats{Table: table, Rows: n, Sample: sample})
	}
	return stats, nil
}

func (s *Store) sampleRow(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+table+` ORDER BY id LIMIT 1`)
	if err != nil {
		return nil, s.fail("sample "+table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	sample := make(map[string]string, len(cols))
	for i, col := range cols {
		sample[col] = formatValue(values[i])
	}
	return sample, rows.Err()
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.d.rebind(query), args...).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

func (s *Store) queryContractors(ctx context.Context, query string, args ...any) ([]*models.Contractor, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	var out []*models.Contractor
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, s.fail("scan", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContractor(row scanner) (*models.Contractor, error) {
	var (
		c                                  models.Contractor
		ext, city, state, profileURL       sql.NullString
		employees, license, address, phone sql.NullString
		rating                             sql.NullFloat64
		years, startYear                   sql.NullInt64
		confidence                         string
	)
	if err := row.Scan(
		&c.ID, &ext, &c.Name, &rating, &c.ReviewCount,
		&city, &state, &profileURL, &years, &startYear, &employees,
		&license, &address, &phone, &confidence, &c.LastScrapedAt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.ExternalID = ext.String
	c.City, c.State, c.ProfileURL = city.String, state.String, profileURL.String
	c.EmployeeRange, c.LicenseNumber = employees.String, license.String
	c.Address, c.Phone = address.String, phone.String
	c.Confidence = models.Confidence(confidence)
	c.LastScrapedAt, c.CreatedAt = c.LastScrapedAt.UTC(), c.CreatedAt.UTC()
	if rating.Valid {
		c.Rating = &rating.Float64
	}
	if years.Valid {
		n := int(years.Int64)
		c.YearsInBusiness = &n
	}
	if startYear.Valid {
		n := int(startYear.Int64)
		c.BusinessStartYear = &n
	}
	return &c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case string:
		return strings.TrimSpace(x)
	default:
		return fmt.Sprint(x)
	}
}
