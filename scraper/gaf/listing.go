package gaf

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"contractor-scraper/models"
	"contractor-scraper/scraper/browser"
	"contractor-scraper/utils"
)

// DefaultBaseURL is the residential contractor search page.
const DefaultBaseURL = "https://www.gaf.com/en-us/roofing-contractors/residential"

const (
	resultsSelector = "ul.contractor-listing__results"
	cardSelector    = "ul.contractor-listing__results > li > article.certification-card"
	headingLink     = "h2.certification-card__heading a"
	resultsTimeout  = 20 * time.Second
)

// Listing field names.
const (
	FieldName           = "name"
	FieldRating         = "rating"
	FieldReviewCount    = "review_count"
	FieldLocation       = "city_state"
	FieldCertifications = "certifications"
	FieldProfileURL     = "profile_url"
)

var (
	reviewCountPattern = regexp.MustCompile(`\((\d+)\)`)
	distanceSuffix     = regexp.MustCompile(`\s*-\s*\d+(?:\.\d+)?\s*mi\s*$`)
	externalIDPattern  = regexp.MustCompile(`-(\d+)$`)

	errNoComma = errors.New("no comma between city and state")
)

// cityState is the parsed value of the card's location line.
type cityState struct {
	City, State string
}

// listingRules is the extraction table for one search-result card. base
// resolves relative profile links.
func listingRules(base *url.URL) []Rule {
	return []Rule{
		{
			Field:    FieldName,
			Locate:   Text{Selector: headingLink + " span"},
			Fallback: Text{Selector: headingLink},
		},
		{
			Field:  FieldRating,
			Locate: Text{Selector: "span.rating-stars__average"},
			Transform: func(raw string) (any, error) {
				return strconv.ParseFloat(raw, 64)
			},
			Valid: func(v any) bool {
				f := v.(float64)
				return f >= 0 && f <= 5
			},
		},
		{
			Field:  FieldReviewCount,
			Locate: Text{Selector: "span.rating-stars__total"},
			Transform: func(raw string) (any, error) {
				m := reviewCountPattern.FindStringSubmatch(raw)
				if m == nil {
					return nil, fmt.Errorf("no count in %q", raw)
				}
				return strconv.Atoi(m[1])
			},
		},
		{
			Field:  FieldLocation,
			Locate: Text{Selector: "p.certification-card__city"},
			Transform: func(raw string) (any, error) {
				city, state := ParseCityState(raw)
				if city == "" && state == "" {
					return nil, errNoComma
				}
				return cityState{City: city, State: state}, nil
			},
		},
		{
			Field:  FieldCertifications,
			Locate: Each{Items: "ul.certification-card__certifications-list > li.certification-card__certification"},
			Multi:  true,
		},
		{
			Field:  FieldProfileURL,
			Locate: Attr{Selector: headingLink, Name: "href"},
			Transform: func(raw string) (any, error) {
				ref, err := url.Parse(raw)
				if err != nil {
					return nil, err
				}
				if base != nil {
					ref = base.ResolveReference(ref)
				}
				return ref.String(), nil
			},
		},
	}
}

// ListingReport describes how a results page was parsed.
type ListingReport struct {
	URL      string
	Cards    int
	Dropped  int
	Outcomes []Outcome
	// Err is a navigation-level failure; the listings are then empty.
	Err error
}

// ListingOptions configures a ListingScraper.
type ListingOptions struct {
	BaseURL    string
	Delay      time.Duration
	MaxRetries int
}

// ListingScraper retrieves search-result cards.
type ListingScraper struct {
	nav    *browser.Navigator
	opts   ListingOptions
	clock  utils.Clock
	logger *utils.Logger
}

// NewListingScraper builds a ListingScraper. clock and logger may be nil.
func NewListingScraper(nav *browser.Navigator, opts ListingOptions, clock utils.Clock, logger *utils.Logger) *ListingScraper {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &ListingScraper{nav: nav, opts: opts, clock: clock, logger: logger}
}

// FetchListings loads the search page for location and radius and returns
// up to limit listings, in page order. Failures are reported, not returned.
func (s *ListingScraper) FetchListings(ctx context.Context, location string, radius, limit int) ([]models.Listing, ListingReport) {
	searchURL, err := BuildSearchURL(s.opts.BaseURL, location, radius)
	if err != nil {
		return nil, ListingReport{Err: err}
	}
	report := ListingReport{URL: searchURL}

	s.logger.Info("[listing] Searching %s (zip %s, %d mi, limit %d)", searchURL, location, radius, limit)
	if err := s.nav.Load(ctx, searchURL, s.opts.MaxRetries); err != nil {
		s.logger.Error("[listing] Failed to load listings page: %v", err)
		report.Err = err
		return nil, report
	}

	if !s.nav.WaitForSelector(ctx, resultsSelector, resultsTimeout) {
		s.logger.Warn("[listing] Timed out waiting for %s", resultsSelector)
	}

	doc, err := s.nav.Session().HTML(ctx)
	if err != nil {
		s.logger.Error("[listing] Could not read page source: %v", err)
		report.Err = fmt.Errorf("%w: read document: %v", browser.ErrNavigation, err)
		return nil, report
	}

	base, _ := url.Parse(searchURL)
	listings, parsed := ParseListings(doc, base, limit)
	parsed.URL = searchURL
	s.logger.Info("[listing] Found %d cards, kept %d, dropped %d", parsed.Cards, len(listings), parsed.Dropped)

	if err := s.clock.Sleep(ctx, s.opts.Delay); err != nil {
		parsed.Err = err
	}
	return listings, parsed
}

// ParseListings extracts up to limit listings (all when limit <= 0) from a
// rendered results document. Cards without a name are dropped, as are
// repeats of a profile link already seen on the page.
func ParseListings(doc string, base *url.URL, limit int) ([]models.Listing, ListingReport) {
	var report ListingReport

	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		report.Err = fmt.Errorf("parse document: %w", err)
		return nil, report
	}

	cards := root.Find(cardSelector)
	report.Cards = cards.Length()

	rules := listingRules(base)
	seen := utils.NewURLSet()
	var listings []models.Listing

	cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
		if limit > 0 && i >= limit {
			return false
		}
		outcome := Apply(rules, card)
		report.Outcomes = append(report.Outcomes, outcome)

		l, ok := listingFrom(outcome)
		if !ok {
			report.Dropped++
			return true
		}
		if l.ProfileURL != "" && !seen.Add(l.ProfileURL) {
			report.Dropped++
			return true
		}
		listings = append(listings, l)
		return true
	})
	return listings, report
}

func listingFrom(o Outcome) (models.Listing, bool) {
	l := models.Listing{
		Name:           o.StringValue(FieldName),
		Certifications: o.Strings(FieldCertifications),
		ProfileURL:     o.StringValue(FieldProfileURL),
	}
	if l.Name == "" {
		return l, false
	}
	if f, ok := o.Float(FieldRating); ok {
		l.Rating = &f
	}
	if n, ok := o.Int(FieldReviewCount); ok {
		l.ReviewCount = n
	}
	if cs, ok := o.Field(FieldLocation).Value.(cityState); ok {
		l.City, l.State = cs.City, cs.State
	}
	l.ExternalID = ExternalID(l.ProfileURL)
	return l, true
}

// BuildSearchURL sets the distance and zipcode query parameters on base.
func BuildSearchURL(base, location string, radius int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("distance", strconv.Itoa(radius))
	q.Set("zipcode", location)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseCityState splits a card location line of the form
// "City, ST - 3.2 mi". Without a comma both results are empty.
func ParseCityState(s string) (city, state string) {
	s = distanceSuffix.ReplaceAllString(strings.TrimSpace(s), "")
	before, after, ok := strings.Cut(s, ",")
	if !ok {
		return "", ""
	}
	city = strings.TrimSpace(before)
	state = strings.ToUpper(strings.TrimSpace(after))
	if len(state) > 2 {
		state = state[:2]
	}
	return city, state
}

// ExternalID returns the digits after the last hyphen of the URL's final
// path segment, or "".
func ExternalID(profileURL string) string {
	if profileURL == "" {
		return ""
	}
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	m := externalIDPattern.FindStringSubmatch(last)
	if m == nil {
		return ""
	}
	return m[1]
}
