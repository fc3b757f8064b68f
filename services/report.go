package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"contractor-scraper/models"
)

// Reporter prints run summaries and stored-data views to a terminal.
type Reporter struct {
	out io.Writer
}

// NewReporter returns a Reporter writing to out, or stdout when out is nil.
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{out: out}
}

// ConfidenceCount is one row of a confidence distribution.
type ConfidenceCount struct {
	Confidence models.Confidence
	Count      int
	Percent    float64
}

// Summary is the data shown after a scrape run.
type Summary struct {
	Run          RunResult
	Distribution []ConfidenceCount
	Freshness    models.FreshnessReport
}

var confidenceOrder = []models.Confidence{models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow}

// Summarize orders the confidence counts of res and attaches the freshness
// report of the store.
func Summarize(res RunResult, freshness models.FreshnessReport) Summary {
	s := Summary{Run: res, Freshness: freshness}
	for _, c := range confidenceOrder {
		n := res.Confidence[c]
		pct := 0.0
		if res.Saved > 0 {
			pct = round2(float64(n) / float64(res.Saved) * 100)
		}
		s.Distribution = append(s.Distribution, ConfidenceCount{Confidence: c, Count: n, Percent: pct})
	}
	return s
}

func (r *Reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Reporter) header(title string) {
	sep := strings.Repeat("═", 54)
	r.printf("\n\033[1;35m%s\033[0m\n", sep)
	r.printf("\033[1;35m  %s\033[0m\n", title)
	r.printf("\033[1;35m%s\033[0m\n\n", sep)
}

func (r *Reporter) section(title string) {
	r.printf("\033[1;33m  %s\033[0m\n", title)
	r.printf("  %s\n", strings.Repeat("─", 54))
}

func (r *Reporter) footer() {
	r.printf("\n\033[1;35m%s\033[0m\n\n", strings.Repeat("═", 54))
}

// PrintSummary prints the result of one scrape run.
func (r *Reporter) PrintSummary(s Summary) {
	r.header("📊 CONTRACTOR SCRAPE SUMMARY")

	r.section("Run")
	r.printf("  Run id                 : %s\n", s.Run.RunID)
	if !s.Run.StartedAt.IsZero() {
		r.printf("  Duration               : %v\n", s.Run.FinishedAt.Sub(s.Run.StartedAt).Round(time.Second))
	}
	r.printf("  Listings found         : \033[1m%d\033[0m\n", s.Run.ListingsFound)
	r.printf("  Contractors saved      : \033[1;32m%d\033[0m\n", s.Run.Saved)
	r.printf("  Failed                 : \033[1;31m%d\033[0m\n", s.Run.Failed)
	r.printf("  Skipped (no profile)   : %d\n", s.Run.Skipped)
	r.printf("  Profile fetch errors   : %d\n", s.Run.ProfileErrors)
	r.printf("  Total stored           : \033[1m%d\033[0m\n", s.Run.TotalStored)
	if s.Run.Err != nil {
		r.printf("  Error                  : \033[1;31m%v\033[0m\n", s.Run.Err)
	}
	r.printf("\n")

	r.section("Data Confidence (this run)")
	if s.Run.Saved == 0 {
		r.printf("  No contractors saved\n")
	} else {
		for _, c := range s.Distribution {
			bar := strings.Repeat("█", c.Count)
			r.printf("  %-8s %5.1f%% %s (%d)\n", c.Confidence, c.Percent, bar, c.Count)
		}
	}
	r.printf("\n")

	r.printFreshnessBody(s.Freshness)
	r.footer()
}

// PrintFreshness prints the freshness report on its own.
func (r *Reporter) PrintFreshness(f models.FreshnessReport) {
	r.header("🕒 DATA FRESHNESS")
	r.printFreshnessBody(f)
	r.footer()
}

func (r *Reporter) printFreshnessBody(f models.FreshnessReport) {
	r.section("Freshness")
	if f.Total == 0 {
		r.printf("  No contractors stored\n")
		return
	}
	r.printf("  Total contractors      : \033[1m%d\033[0m\n", f.Total)
	r.printf("  Scraped in last 7 days : %d\n", f.Fresh7d)
	r.printf("  Scraped in last 30 days: %d\n", f.Fresh30d)
	r.printf("  Scraped in last 90 days: %d\n", f.Fresh90d)
	r.printf("  Stale (>30 days)       : %d\n", f.Stale30d)
	r.printf("  Stale (>90 days)       : %d\n", f.Stale90d)
	r.printf("  30-day freshness rate  : \033[1;32m%.2f%%\033[0m\n", f.FreshnessRate30d)
}

// PrintContractors prints one line per contractor under title.
func (r *Reporter) PrintContractors(title string, cs []*models.Contractor) {
	r.header(title)
	if len(cs) == 0 {
		r.printf("  No contractors found\n")
		r.footer()
		return
	}
	for i, c := range cs {
		r.printf("  \033[1m%2d.\033[0m %-36s %-7s %-18s %s\n",
			i+1, truncate(c.Name, 34), orDash(c.ExternalID),
			truncate(location(c), 18), c.LastScrapedAt.Format("2006-01-02"))
	}
	r.footer()
}

// PrintContractor prints every stored field of c.
func (r *Reporter) PrintContractor(c *models.Contractor) {
	r.header("🏠 " + truncate(c.Name, 48))

	r.section("Listing")
	r.printf("  External id   : %s\n", orDash(c.ExternalID))
	r.printf("  Rating        : %s (%d reviews)\n", formatRating(c.Rating), c.ReviewCount)
	r.printf("  Location      : %s\n", orDash(location(c)))
	r.printf("  Profile       : %s\n", orDash(c.ProfileURL))
	r.printf("\n")

	r.section("Profile")
	r.printf("  In business   : %s\n", formatYears(c.YearsInBusiness, c.BusinessStartYear))
	r.printf("  Employees     : %s\n", orDash(c.EmployeeRange))
	r.printf("  License       : %s\n", orDash(c.LicenseNumber))
	r.printf("  Address       : %s\n", orDash(c.Address))
	r.printf("  Phone         : %s\n", orDash(c.Phone))
	r.printf("  Confidence    : \033[1m%s\033[0m\n", c.Confidence)
	r.printf("  Last scraped  : %s\n", c.LastScrapedAt.Format("2006-01-02 15:04:05 MST"))
	r.printf("\n")

	r.section("Certifications")
	if len(c.Certifications) == 0 {
		r.printf("  None\n")
	}
	for _, cert := range c.Certifications {
		r.printf("  • %s\n", cert.Name)
	}
	r.printf("\n")

	if c.Text != nil {
		r.section("About")
		r.printf("  %s\n\n", orDash(truncate(c.Text.AboutText, 400)))
		snippets := c.Text.Snippets()
		r.section(fmt.Sprintf("Review Snippets (%d)", len(snippets)))
		for _, s := range snippets {
			r.printf("  “%s”\n", truncate(s, 200))
		}
	}
	r.footer()
}

// PrintTables prints the row count and one sample row of every table.
func (r *Reporter) PrintTables(stats []models.TableStats) {
	r.header("🗄  STORAGE TABLES")
	for _, st := range stats {
		r.section(fmt.Sprintf("%s (%d rows)", st.Table, st.Rows))
		if st.Sample == nil {
			r.printf("  empty\n\n")
			continue
		}
		cols := make([]string, 0, len(st.Sample))
		for col := range st.Sample {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			r.printf("  %-24s %s\n", col, truncate(st.Sample[col], 60))
		}
		r.printf("\n")
	}
	r.footer()
}

func location(c *models.Contractor) string {
	switch {
	case c.City != "" && c.State != "":
		return c.City + ", " + c.State
	case c.City != "":
		return c.City
	default:
		return c.State
	}
}

func formatRating(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f ★", *f)
}

func formatYears(years, since *int) string {
	switch {
	case years != nil && since != nil:
		return fmt.Sprintf("%d years (since %d)", *years, *since)
	case years != nil:
		return fmt.Sprintf("%d years", *years)
	default:
		return "-"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
