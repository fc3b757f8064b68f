package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"contractor-scraper/models"
)

var csvHeader = []string{
	"run_id", "external_contractor_id", "contractor_name", "rating", "review_count",
	"city", "state", "certifications", "profile_url",
	"years_in_business", "business_start_year", "employee_range", "state_license_number",
	"address", "phone", "about_text", "review_snippets", "scraped_at",
}

// CSVWriter writes raw (unnormalised) contractor records to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one row per record and flushes.
func (c *CSVWriter) WriteRaw(records []*models.RawContractor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		l, p := r.Listing, r.Profile
		row := []string{
			r.RunID,
			l.ExternalID,
			l.Name,
			formatFloat(l.Rating),
			strconv.Itoa(l.ReviewCount),
			l.City,
			l.State,
			strings.Join(l.Certifications, "; "),
			l.ProfileURL,
			formatInt(p.YearsInBusiness),
			formatInt(p.BusinessStartYear),
			p.EmployeeRange,
			p.LicenseNumber,
			p.Address,
			p.Phone,
			p.AboutText,
			models.JoinSnippets(p.ReviewSnippets),
			r.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
