package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// dialect holds the driver-specific parts of the schema and queries. Query
// text is written with ? placeholders and rebound per dialect.
type dialect struct {
	name          string
	numbered      bool
	schema        []string
	isConstraint  func(error) bool
	singleConnect bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $1, $2, ... for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

var postgresDialect = dialect{
	name:     DriverPostgres,
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS contractors (
			id                     BIGSERIAL PRIMARY KEY,
			external_contractor_id VARCHAR(50) UNIQUE,
			contractor_name        TEXT        NOT NULL,
			rating                 DOUBLE PRECISION,
			review_count           INTEGER     NOT NULL DEFAULT 0,
			city                   TEXT,
			state                  VARCHAR(2),
			profile_url            TEXT,
			years_in_business      INTEGER,
			business_start_year    INTEGER,
			employee_range         TEXT,
			state_license_number   TEXT,
			address                TEXT,
			phone                  VARCHAR(20),
			data_confidence        VARCHAR(10) NOT NULL,
			last_scraped_at        TIMESTAMPTZ NOT NULL,
			created_at             TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contractors_last_scraped ON contractors(last_scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contractors_state ON contractors(state)`,
		`CREATE TABLE IF NOT EXISTS certifications (
			id            BIGSERIAL PRIMARY KEY,
			contractor_id BIGINT      NOT NULL REFERENCES contractors(id) ON DELETE CASCADE,
			name          TEXT        NOT NULL,
			original_text TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_certifications_contractor ON certifications(contractor_id)`,
		`CREATE TABLE IF NOT EXISTS contractor_text (
			id              BIGSERIAL PRIMARY KEY,
			contractor_id   BIGINT      NOT NULL UNIQUE REFERENCES contractors(id) ON DELETE CASCADE,
			about_text      TEXT,
			review_snippets TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
	},
	isConstraint: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code.Class() == "23"
	},
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS contractors (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			external_contractor_id TEXT UNIQUE,
			contractor_name        TEXT      NOT NULL,
			rating                 REAL,
			review_count           INTEGER   NOT NULL DEFAULT 0,
			city                   TEXT,
			state                  TEXT,
			profile_url            TEXT,
			years_in_business      INTEGER,
			business_start_year    INTEGER,
			employee_range         TEXT,
			state_license_number   TEXT,
			address                TEXT,
			phone                  TEXT,
			data_confidence        TEXT      NOT NULL,
			last_scraped_at        TIMESTAMP NOT NULL,
			created_at             TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contractors_last_scraped ON contractors(last_scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contractors_state ON contractors(state)`,
		`CREATE TABLE IF NOT EXISTS certifications (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			contractor_id INTEGER   NOT NULL REFERENCES contractors(id) ON DELETE CASCADE,
			name          TEXT      NOT NULL,
			original_text TEXT,
			created_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_certifications_contractor ON certifications(contractor_id)`,
		`CREATE TABLE IF NOT EXISTS contractor_text (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			contractor_id   INTEGER   NOT NULL UNIQUE REFERENCES contractors(id) ON DELETE CASCADE,
			about_text      TEXT,
			review_snippets TEXT,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`,
	},
	isConstraint: func(err error) bool {
		var sqlErr *sqlite.Error
		return errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	},
	// in-memory databases exist per connection
	singleConnect: true,
}
