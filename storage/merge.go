package storage

import (
	"time"

	"contractor-scraper/models"
)

// NewContractor builds a new entity from a normalised update.
func NewContractor(u models.Update, now time.Time) models.Contractor {
	l, p := u.Listing, u.Profile
	return models.Contractor{
		ExternalID:        l.ExternalID,
		Name:              l.Name,
		Rating:            copyFloat(l.Rating),
		ReviewCount:       l.ReviewCount,
		City:              l.City,
		State:             l.State,
		ProfileURL:        l.ProfileURL,
		YearsInBusiness:   copyInt(p.YearsInBusiness),
		BusinessStartYear: copyInt(p.BusinessStartYear),
		EmployeeRange:     p.EmployeeRange,
		LicenseNumber:     p.LicenseNumber,
		Address:           p.Address,
		Phone:             p.Phone,
		Confidence:        u.Confidence,
		LastScrapedAt:     now,
		CreatedAt:         now,
		Certifications:    cloneCertifications(u.Certifications),
	}
}

// Merge returns existing updated with every non-empty field of u. Empty
// strings and nil values in u never overwrite stored data. Confidence and
// the scrape time always advance, and the certification set is replaced
// wholesale. existing is not modified.
func Merge(existing models.Contractor, u models.Update, now time.Time) models.Contractor {
	out := existing
	l, p := u.Listing, u.Profile

	setString(&out.Name, l.Name)
	if l.Rating != nil {
		out.Rating = copyFloat(l.Rating)
	}
	out.ReviewCount = l.ReviewCount
	setString(&out.City, l.City)
	setString(&out.State, l.State)
	setString(&out.ProfileURL, l.ProfileURL)

	if p.YearsInBusiness != nil {
		out.YearsInBusiness = copyInt(p.YearsInBusiness)
	}
	if p.BusinessStartYear != nil {
		out.BusinessStartYear = copyInt(p.BusinessStartYear)
	}
	setString(&out.EmployeeRange, p.EmployeeRange)
	setString(&out.LicenseNumber, p.LicenseNumber)
	setString(&out.Address, p.Address)
	setString(&out.Phone, p.Phone)

	out.Confidence = u.Confidence
	out.LastScrapedAt = now
	out.Certifications = cloneCertifications(u.Certifications)
	if existing.Text != nil {
		t := *existing.Text
		out.Text = &t
	}
	return out
}

// MergeText returns the text blob for contractorID after a scrape of p.
// An existing blob keeps its about text and snippets unless p has new ones.
func MergeText(existing *models.ContractorText, contractorID int64, p models.Profile, now time.Time) models.ContractorText {
	snippets := models.JoinSnippets(p.ReviewSnippets)
	if existing == nil {
		return models.ContractorText{
			ContractorID:   contractorID,
			AboutText:      p.AboutText,
			ReviewSnippets: snippets,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	out := *existing
	setString(&out.AboutText, p.AboutText)
	setString(&out.ReviewSnippets, snippets)
	out.UpdatedAt = now
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneCertifications(certs []models.Certification) []models.Certification {
	if len(certs) == 0 {
		return nil
	}
	out := make([]models.Certification, len(certs))
	copy(out, certs)
	return out
}
