package models

import (
	"strings"
	"time"
)

// Confidence is the completeness bucket of a stored contractor.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Listing is one card from the search-results page. It is used both as
// scraped and after normalisation; empty strings and nil pointers mean the
// field is absent.
type Listing struct {
	Name           string
	Rating         *float64
	ReviewCount    int
	City           string
	State          string
	Certifications []string
	ProfileURL     string
	ExternalID     string
}

// Profile is the detailed record from a contractor's own page.
type Profile struct {
	YearsInBusiness   *int
	BusinessStartYear *int
	EmployeeRange     string
	LicenseNumber     string
	Address           string
	Phone             string
	AboutText         string
	ReviewSnippets    []string
}

// Contractor is the persisted entity merging listing and profile data.
type Contractor struct {
	ID                int64
	ExternalID        string
	Name              string
	Rating            *float64
	ReviewCount       int
	City              string
	State             string
	ProfileURL        string
	YearsInBusiness   *int
	BusinessStartYear *int
	EmployeeRange     string
	LicenseNumber     string
	Address           string
	Phone             string
	Confidence        Confidence
	LastScrapedAt     time.Time
	CreatedAt         time.Time

	Certifications []Certification
	Text           *ContractorText
}

// Certification is a badge owned by exactly one Contractor.
type Certification struct {
	ID           int64
	ContractorID int64
	Name         string
	OriginalText string
	CreatedAt    time.Time
}

// ContractorText holds the free-text blob of a Contractor (one-to-one).
type ContractorText struct {
	ID             int64
	ContractorID   int64
	AboutText      string
	ReviewSnippets string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SnippetSeparator joins review snippets in ContractorText.ReviewSnippets.
const SnippetSeparator = "\n\n---\n\n"

// JoinSnippets concatenates review snippets with SnippetSeparator.
func JoinSnippets(snippets []string) string {
	return strings.Join(snippets, SnippetSeparator)
}

// Snippets splits the stored review snippets.
func (t ContractorText) Snippets() []string {
	if t.ReviewSnippets == "" {
		return nil
	}
	return strings.Split(t.ReviewSnippets, SnippetSeparator)
}

// Update is the normalised result of one listing+profile scrape, ready to
// be merged into a stored Contractor.
type Update struct {
	Listing        Listing
	Profile        Profile
	Certifications []Certification
	Confidence     Confidence
}

// FreshnessReport summarises how recently stored contractors were scraped.
type FreshnessReport struct {
	Total            int
	Fresh7d          int
	Fresh30d         int
	Fresh90d         int
	Stale30d         int
	Stale90d         int
	FreshnessRate30d float64
}

// TableStats is a row count plus one sample row for a storage table.
type TableStats struct {
	Table  string
	Rows   int
	Sample map[string]string
}

// RawContractor is one scraped listing and profile pair before
// normalisation, tagged with the run that produced it.
type RawContractor struct {
	RunID     string
	Listing   Listing
	Profile   Profile
	ScrapedAt time.Time
}
