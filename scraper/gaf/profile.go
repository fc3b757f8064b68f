package gaf

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"contractor-scraper/models"
	"contractor-scraper/scraper/browser"
	"contractor-scraper/utils"
)

// Profile field names.
const (
	FieldStartYear      = "business_start_year"
	FieldEmployeeRange  = "employee_range"
	FieldLicenseNumber  = "license_number"
	FieldAddress        = "address"
	FieldPhone          = "phone"
	FieldAboutText      = "about_text"
	FieldReviewSnippets = "review_snippets"
)

const (
	// MinStartYear is the earliest plausible founding year.
	MinStartYear = 1800
	// MaxReviewSnippets caps the number of review quotes kept per profile.
	MaxReviewSnippets = 5

	detailItems       = "section.contractor-details .contractor-details__content div.contractor-details__info"
	detailLabel       = "h3.contractor-details__title"
	detailDescription = "p.contractor-details__description"
)

var (
	startYearPattern = regexp.MustCompile(`(?i)(?:since|in business since)\s+(\d{4})`)
	employeeRange    = regexp.MustCompile(`\d+[-–]\d+`)
	firstNumber      = regexp.MustCompile(`\d+`)
)

// TelLink is the number of the first tel: anchor matching Selector, taken
// from its href or, when the href carries no number, from its text.
type TelLink struct {
	Selector string
}

func (l TelLink) Locate(root *goquery.Selection) []string {
	a := root.Find(l.Selector).First()
	if a.Length() == 0 {
		return nil
	}
	href, _ := a.Attr("href")
	if n := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(href), "tel:")); n != "" {
		return []string{n}
	}
	return nonEmpty(textOf(a))
}

func detail(match func(string) bool) Detail {
	return Detail{Items: detailItems, Label: detailLabel, Description: detailDescription, Match: match}
}

// profileRules is the extraction table for a contractor profile page.
// currentYear bounds the founding year.
func profileRules(currentYear int) []Rule {
	return []Rule{
		{
			Field:  FieldStartYear,
			Locate: detail(Labelled("years in business")),
			Transform: func(raw string) (any, error) {
				m := startYearPattern.FindStringSubmatch(raw)
				if m == nil {
					return nil, fmt.Errorf("no year in %q", raw)
				}
				return strconv.Atoi(m[1])
			},
			Valid: func(v any) bool {
				y := v.(int)
				return y >= MinStartYear && y <= currentYear
			},
		},
		{
			Field:  FieldEmployeeRange,
			Locate: detail(Labelled("employee", "number")),
			Transform: func(raw string) (any, error) {
				return BucketEmployees(raw), nil
			},
		},
		{
			Field:  FieldLicenseNumber,
			Locate: detail(Labelled("license", "state")),
		},
		{
			Field:  FieldAddress,
			Locate: Text{Selector: "address.image-masthead-carousel__address"},
		},
		{
			Field:  FieldPhone,
			Locate: TelLink{Selector: ".image-masthead-carousel__links a[href^='tel:']"},
			Transform: func(raw string) (any, error) {
				return ParsePhone(raw), nil
			},
		},
		{
			Field:  FieldAboutText,
			Locate: Paragraphs{Selector: "section.about-us-block .rtf.about-us-block__description"},
		},
		{
			Field: FieldReviewSnippets,
			Locate: Each{
				Items:    "section.contractor-reviews ul.contractors-reviews__list > li.contractor-reviews__item",
				Inner:    "span.contractor-reviews__quote-text",
				Fallback: "p.contractor-reviews__quote",
				Limit:    MaxReviewSnippets,
			},
			Multi: true,
		},
	}
}

// ProfileOptions configures a ProfileScraper.
type ProfileOptions struct {
	Delay      time.Duration
	MaxRetries int
}

// ProfileScraper retrieves contractor profile pages.
type ProfileScraper struct {
	nav    *browser.Navigator
	opts   ProfileOptions
	clock  utils.Clock
	logger *utils.Logger
}

// NewProfileScraper builds a ProfileScraper. clock and logger may be nil.
func NewProfileScraper(nav *browser.Navigator, opts ProfileOptions, clock utils.Clock, logger *utils.Logger) *ProfileScraper {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &ProfileScraper{nav: nav, opts: opts, clock: clock, logger: logger}
}

// FetchProfile loads profileURL and extracts its details. It never fails:
// on a navigation failure the profile is empty and Outcome.Err is set.
func (s *ProfileScraper) FetchProfile(ctx context.Context, profileURL string) (models.Profile, Outcome) {
	defer func() {
		if err := s.clock.Sleep(ctx, s.opts.Delay); err != nil {
			s.logger.Debug("[profile] Delay interrupted: %v", err)
		}
	}()

	if err := s.nav.Load(ctx, profileURL, s.opts.MaxRetries); err != nil {
		s.logger.Warn("[profile] Failed to load %s: %v", profileURL, err)
		return models.Profile{}, Outcome{Err: err}
	}

	doc, err := s.nav.Session().HTML(ctx)
	if err != nil {
		s.logger.Warn("[profile] Could not read page source for %s: %v", profileURL, err)
		return models.Profile{}, Outcome{Err: fmt.Errorf("%w: read document: %v", browser.ErrNavigation, err)}
	}

	p, outcome := ParseProfile(doc, s.clock.Now())
	if bad := outcome.With(FieldMalformed); len(bad) > 0 {
		s.logger.Debug("[profile] %s: malformed fields %v", profileURL, bad)
	}
	return p, outcome
}

// ParseProfile extracts a Profile from a rendered profile document. now
// supplies the current year for the founding-year bounds.
func ParseProfile(doc string, now time.Time) (models.Profile, Outcome) {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return models.Profile{}, Outcome{Err: fmt.Errorf("parse document: %w", err)}
	}

	year := now.Year()
	o := Apply(profileRules(year), root.Selection)

	p := models.Profile{
		EmployeeRange:  o.StringValue(FieldEmployeeRange),
		LicenseNumber:  o.StringValue(FieldLicenseNumber),
		Address:        o.StringValue(FieldAddress),
		Phone:          o.StringValue(FieldPhone),
		AboutText:      o.StringValue(FieldAboutText),
		ReviewSnippets: o.Strings(FieldReviewSnippets),
	}
	if start, ok := o.Int(FieldStartYear); ok {
		years := year - start
		p.BusinessStartYear = &start
		p.YearsInBusiness = &years
	}
	return p, o
}

// BucketEmployees maps an employee-count description onto one of the
// buckets 1-10, 11-50, 51-200 and 201+. Explicit ranges are kept as
// written and unrecognised text is returned unchanged.
//
// The "less than" thresholds do not line up with the bare-number ones:
// "Less than 11" lands in 1-10 while a bare 11 lands in 11-50.
func BucketEmployees(text string) string {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "more than") || strings.Contains(lower, "over"):
		if n, ok := leadingInt(text); ok {
			switch {
			case n < 5:
				return "1-10"
			case n < 11:
				return "11-50"
			case n < 51:
				return "51-200"
			default:
				return "201+"
			}
		}
	case strings.Contains(lower, "less than") || strings.Contains(lower, "under"):
		if n, ok := leadingInt(text); ok {
			if n <= 11 {
				return "1-10"
			}
			return "11-50"
		}
	}

	if r := employeeRange.FindString(text); r != "" {
		return r
	}
	if n, ok := leadingInt(text); ok {
		switch {
		case n <= 10:
			return "1-10"
		case n <= 50:
			return "11-50"
		case n <= 200:
			return "51-200"
		default:
			return "201+"
		}
	}
	return text
}

func leadingInt(s string) (int, bool) {
	m := firstNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// ParsePhone strips a US country code from a tel: number, leaving the
// national number. Full digit validation happens during normalisation.
func ParsePhone(raw string) string {
	p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "tel:"))
	switch {
	case strings.HasPrefix(p, "+1"):
		p = p[2:]
	case strings.HasPrefix(p, "1") && len(p) == 11:
		p = p[1:]
	}
	return p
}
