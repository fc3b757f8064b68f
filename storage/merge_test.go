package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-scraper/models"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestMergeKeepsStoredValuesForEmptyFields(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := models.Contractor{
		ID:              7,
		ExternalID:      "1004859",
		Name:            "Preferred Exterior Corp",
		Rating:          floatPtr(4.5),
		ReviewCount:     200,
		City:            "Elmhurst",
		State:           "NY",
		YearsInBusiness: intPtr(20),
		Address:         "1 Main St",
		Phone:           "2125550100",
		Confidence:      models.ConfidenceHigh,
		LastScrapedAt:   created,
		CreatedAt:       created,
		Certifications:  []models.Certification{{ID: 1, Name: "Certified"}},
	}
	snapshot := existing
	now := created.Add(48 * time.Hour)

	got := Merge(existing, models.Update{
		Listing:    models.Listing{Name: "Preferred Exterior Corporation", ReviewCount: 244, ExternalID: "1004859"},
		Profile:    models.Profile{EmployeeRange: "11-50"},
		Confidence: models.ConfidenceMedium,
	}, now)

	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "Preferred Exterior Corporation", got.Name)
	assert.Equal(t, 4.5, *got.Rating)
	assert.Equal(t, 244, got.ReviewCount)
	assert.Equal(t, "Elmhurst", got.City)
	assert.Equal(t, 20, *got.YearsInBusiness)
	assert.Equal(t, "11-50", got.EmployeeRange)
	assert.Equal(t, "1 Main St", got.Address)
	assert.Equal(t, "2125550100", got.Phone)
	assert.Equal(t, models.ConfidenceMedium, got.Confidence)
	assert.Equal(t, now, got.LastScrapedAt)
	assert.Equal(t, created, got.CreatedAt)
	assert.Empty(t, got.Certifications, "certifications are replaced, not merged")

	assert.Equal(t, snapshot, existing, "existing must not be modified")
}

func TestMergeOverwritesWithNewValues(t *testing.T) {
	existing := models.Contractor{Rating: floatPtr(4.0), BusinessStartYear: intPtr(1990), Phone: "2125550100"}
	got := Merge(existing, models.Update{
		Listing: models.Listing{Rating: floatPtr(0)},
		Profile: models.Profile{BusinessStartYear: intPtr(1899), Phone: "9735663007"},
		Certifications: []models.Certification{
			{Name: "Master Elite", OriginalText: "Master Elite® Contractor"},
		},
	}, time.Now())

	assert.Equal(t, 0.0, *got.Rating)
	assert.Equal(t, 1899, *got.BusinessStartYear)
	assert.Equal(t, "9735663007", got.Phone)
	require.Len(t, got.Certifications, 1)
	assert.Equal(t, 4.0, *existing.Rating)
}

func TestNewContractor(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewContractor(models.Update{
		Listing:    models.Listing{Name: "Acme", ExternalID: "42", ReviewCount: 3},
		Profile:    models.Profile{LicenseNumber: "NJ-1"},
		Confidence: models.ConfidenceLow,
	}, now)

	assert.Zero(t, c.ID)
	assert.Equal(t, "42", c.ExternalID)
	assert.Equal(t, "NJ-1", c.LicenseNumber)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.LastScrapedAt)
	assert.Nil(t, c.Rating)
}

func TestMergeText(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	fresh := MergeText(nil, 9, models.Profile{AboutText: "About", ReviewSnippets: []string{"a", "b"}}, t0)
	assert.Equal(t, int64(9), fresh.ContractorID)
	assert.Equal(t, "a\n\n---\n\nb", fresh.ReviewSnippets)
	assert.Equal(t, t0, fresh.CreatedAt)

	fresh.ID = 3
	kept := MergeText(&fresh, 9, models.Profile{}, t1)
	assert.Equal(t, int64(3), kept.ID)
	assert.Equal(t, "About", kept.AboutText)
	assert.Equal(t, "a\n\n---\n\nb", kept.ReviewSnippets)
	assert.Equal(t, t0, kept.CreatedAt)
	assert.Equal(t, t1, kept.UpdatedAt)

	replaced := MergeText(&fresh, 9, models.Profile{ReviewSnippets: []string{"c"}}, t1)
	assert.Equal(t, "About", replaced.AboutText)
	assert.Equal(t, "c", replaced.ReviewSnippets)
}

func TestSnippetsRoundTrip(t *testing.T) {
	assert.Nil(t, models.ContractorText{}.Snippets())
	text := models.ContractorText{ReviewSnippets: models.JoinSnippets([]string{"a", "b"})}
	assert.Equal(t, []string{"a", "b"}, text.Snippets())
}
