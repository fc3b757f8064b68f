package services

import "contractor-scraper/models"

// MaxScore is the number of tracked fields.
const MaxScore = 10

const (
	highThreshold   = 8
	mediumThreshold = 5
)

// Score counts the tracked fields present in a normalised listing and
// profile: four listing fields and six profile fields, one point each.
// A years-in-business of zero counts as present.
func Score(l models.Listing, p models.Profile) int {
	checks := []bool{
		l.Name != "",
		l.City != "" && l.State != "",
		l.Rating != nil,
		l.ProfileURL != "",

		p.Address != "",
		p.Phone != "",
		p.YearsInBusiness != nil,
		p.EmployeeRange != "",
		p.AboutText != "",
		len(p.ReviewSnippets) > 0,
	}
	score := 0
	for _, ok := range checks {
		if ok {
			score++
		}
	}
	return score
}

// Bucket maps a score onto a confidence category.
func Bucket(score int) models.Confidence {
	switch {
	case score >= highThreshold:
		return models.ConfidenceHigh
	case score >= mediumThreshold:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
