package collector

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/tlcdataflow/internal/models"
)

// LastPublishedYear is the final year of the yellow-taxi CSV series. Collection
// stopped after July of that year.
const LastPublishedYear = 2021

const lastPublishedMonth = 7

// GenerateSources returns one reference per month between startYear and endYear
// inclusive, in chronological order. An inverted range yields an empty slice.
func GenerateSources(baseURL string, startYear, endYear int) []models.SourceReference {
	var refs []models.SourceReference
	for year := startYear; year <= endYear; year++ {
		months := 12
		if year == LastPublishedYear {
			months = lastPublishedMonth
		}
		for month := 1; month <= months; month++ {
			url := fmt.Sprintf("%syellow_tripdata_%d-%02d.csv", baseURL, year, month)
			refs = append(refs, models.SourceReference{
				Year:     year,
				Month:    month,
				URL:      url,
				FileName: FileNameFromURL(url),
			})
		}
	}
	return refs
}

// SourceFor builds the reference for a single month.
func SourceFor(baseURL string, year, month int) (models.SourceReference, error) {
	if month < 1 || month > 12 {
		return models.SourceReference{}, fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	if year == LastPublishedYear && month > lastPublishedMonth {
		return models.SourceReference{}, fmt.Errorf("no data published for %d-%02d", year, month)
	}
	url := fmt.Sprintf("%syellow_tripdata_%d-%02d.csv", baseURL, year, month)
	return models.SourceReference{Year: year, Month: month, URL: url, FileName: FileNameFromURL(url)}, nil
}

// FileNameFromURL returns the part of the URL after the last underscore,
// e.g. "2021-07.csv" for ".../yellow_tripdata_2021-07.csv".
func FileNameFromURL(url string) string {
	return url[strings.LastIndex(url, "_")+1:]
}

// Select returns count references starting at offset. A count of zero or less
// selects everything from offset onwards.
func Select(refs []models.SourceReference, offset, count int) []models.SourceReference {
	if offset < 0 || offset >= len(refs) {
		return nil
	}
	end := len(refs)
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return refs[offset:end]
}
