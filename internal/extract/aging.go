package extract

import "strings"

// AgePrefix is the normalized column prefix of inventory-age buckets.
const AgePrefix = "inv-age-"

// bucketsWithin90 are the age buckets that do not count toward 90+ day aging.
var bucketsWithin90 = []string{"0-to-90", "0-to-30", "31-to-60", "61-to-90"}

// IsAgedPast90 reports whether a normalized column name is an inventory-age
// bucket strictly older than 90 days.
func IsAgedPast90(column string) bool {
	if !strings.HasPrefix(column, AgePrefix) {
		return false
	}
	bucket := strings.TrimPrefix(column, AgePrefix)
	for _, b := range bucketsWithin90 {
		if bucket == b || strings.HasPrefix(bucket, b+"-") {
			return false
		}
	}
	return bucket != ""
}

// AgedUnits sums every 90+ day bucket of a record keyed by normalized column name.
func AgedUnits(row map[string]string) float64 {
	var total float64
	for col, v := range row {
		if IsAgedPast90(col) {
			total += ParseNumber(v)
		}
	}
	return total
}

// AgingRisk is the storage-cost exposure contributed by one record.
func AgingRisk(estimatedLTSF, estimatedStorage float64) float64 {
	return estimatedLTSF + estimatedStorage
}
