package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"contractor-scraper/models"
	"contractor-scraper/utils"
)

const (
	minStartYear = 1800
	maxYears     = 200
)

var (
	// controlChars are the C0/C1 control characters other than tab, newline
	// and carriage return.
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x0c\x0e-\x1f\x7f-\x9f]`)
	// doubleComma matches commas separated only by whitespace.
	doubleComma  = regexp.MustCompile(`,\s*,`)
	// notPhone matches everything a phone number may not contain.
	notPhone     = regexp.MustCompile(`[^\d+]`)
	digitsOnly   = regexp.MustCompile(`^\d{10}$`)
)

// certificationAliases maps lower-cased substrings to canonical badge names.
// Order matters: the first matching substring wins.
var certificationAliases = []struct {
	substr, name string
}{
	{"master elite", "Master Elite"},
	{"master elite contractor", "Master Elite"},
	{"gaf master elite", "Master Elite"},
	{"certified", "Certified"},
	{"certified contractor", "Certified"},
}

// Normalizer canonicalises scraped listing and profile records.
type Normalizer struct {
	clock  utils.Clock
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer. The clock supplies the current year
// for founding-year bounds; nil means the wall clock.
func NewNormalizer(clock utils.Clock, logger *utils.Logger) *Normalizer {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &Normalizer{clock: clock, logger: logger}
}

// NormalizeListing returns a cleaned copy of raw. Certifications become
// canonical names; use Certifications to keep the raw text alongside.
func (n *Normalizer) NormalizeListing(raw models.Listing) models.Listing {
	out := raw
	out.Name = CleanText(raw.Name)
	out.City = CleanText(raw.City)
	out.State = normaliseState(raw.State)
	out.ProfileURL = strings.TrimSpace(raw.ProfileURL)
	out.ExternalID = strings.TrimSpace(raw.ExternalID)
	if out.ReviewCount < 0 {
		out.ReviewCount = 0
	}
	if out.Rating != nil && (*out.Rating < 0 || *out.Rating > 5) {
		n.logger.Debug("[normalizer] Rating %.2f out of range for %q", *out.Rating, out.Name)
		out.Rating = nil
	}

	out.Certifications = nil
	for _, c := range raw.Certifications {
		if name := NormalizeCertification(c); name != "" {
			out.Certifications = append(out.Certifications, name)
		}
	}
	return out
}

// NormalizeProfile returns a cleaned copy of raw. listing is the record the
// profile belongs to and is used only for log context.
func (n *Normalizer) NormalizeProfile(raw models.Profile, listing models.Listing) models.Profile {
	out := models.Profile{
		YearsInBusiness:   NormalizeYears(raw.YearsInBusiness),
		BusinessStartYear: NormalizeStartYear(raw.BusinessStartYear, n.clock.Now().Year()),
		EmployeeRange:     CleanText(raw.EmployeeRange),
		LicenseNumber:     CleanText(raw.LicenseNumber),
		Address:           CleanAddress(raw.Address),
		Phone:             CleanPhone(raw.Phone),
		AboutText:         CleanText(raw.AboutText),
	}
	if raw.Phone != "" && out.Phone == "" {
		n.logger.Debug("[normalizer] Rejected phone %q for %q", raw.Phone, listing.Name)
	}
	if raw.BusinessStartYear != nil && out.BusinessStartYear == nil {
		// years in business is derived from the start year
		out.YearsInBusiness = nil
		n.logger.Debug("[normalizer] Rejected start year %d for %q", *raw.BusinessStartYear, listing.Name)
	}
	for _, s := range raw.ReviewSnippets {
		if c := CleanText(s); c != "" {
			out.ReviewSnippets = append(out.ReviewSnippets, c)
		}
	}
	return out
}

// Certifications pairs each non-empty raw certification with its canonical
// name, in listing order.
func (n *Normalizer) Certifications(raw []string) []models.Certification {
	out := make([]models.Certification, 0, len(raw))
	for _, r := range raw {
		original := CleanText(r)
		if original == "" {
			continue
		}
		out = append(out, models.Certification{
			Name:         NormalizeCertification(original),
			OriginalText: original,
		})
	}
	return out
}

// Update normalises a scraped listing and profile and scores the result.
func (n *Normalizer) Update(listing models.Listing, profile models.Profile) models.Update {
	l := n.NormalizeListing(listing)
	p := n.NormalizeProfile(profile, l)
	return models.Update{
		Listing:        l,
		Profile:        p,
		Certifications: n.Certifications(listing.Certifications),
		Confidence:     Bucket(Score(l, p)),
	}
}

// CleanText collapses whitespace runs, trims and removes control
// characters. Punctuation is preserved.
func CleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = controlChars.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// CleanAddress is CleanText plus removal of doubled commas.
func CleanAddress(s string) string {
	s = CleanText(s)
	for doubleComma.MatchString(s) {
		s = doubleComma.ReplaceAllString(s, ",")
	}
	return s
}

// CleanPhone reduces s to a 10-digit national number, or "" when that is
// not possible.
func CleanPhone(s string) string {
	p := notPhone.ReplaceAllString(s, "")
	switch {
	case strings.HasPrefix(p, "+1"):
		p = p[2:]
	case strings.HasPrefix(p, "1") && len(p) == 11:
		p = p[1:]
	}
	if !digitsOnly.MatchString(p) {
		return ""
	}
	return p
}

// NormalizeCertification maps known badge variants to their canonical name
// and title-cases anything else.
func NormalizeCertification(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	for _, a := range certificationAliases {
		if strings.Contains(lower, a.substr) {
			return a.name
		}
	}
	return cases.Title(language.English).String(trimmed)
}

// NormalizeYears keeps years in [0, 200].
func NormalizeYears(y *int) *int {
	if y == nil || *y < 0 || *y > maxYears {
		return nil
	}
	v := *y
	return &v
}

// NormalizeStartYear keeps founding years in [1800, currentYear].
func NormalizeStartYear(y *int, currentYear int) *int {
	if y == nil || *y < minStartYear || *y > currentYear {
		return nil
	}
	v := *y
	return &v
}

func normaliseState(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) > 2 {
		s = s[:2]
	}
	return s
}
