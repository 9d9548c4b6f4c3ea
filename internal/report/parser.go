// Package report converts downloaded planning reports into planning records.
package report

import (
	"regexp"
	"strings"

	"fba-sync-api/internal/extract"
	"fba-sync-api/internal/model"
)

// Result is the outcome of one parse pass.
type Result struct {
	Items          map[string]model.PlanningRecord
	AgingRiskTotal float64
	Rows           int
	Dropped        int
}

var separatorRun = regexp.MustCompile(`[\s_]+`)

// NormalizeHeader case-folds and trims a column name and collapses runs of
// whitespace or underscores into a single hyphen.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return separatorRun.ReplaceAllString(h, "-")
}

// Parse reads tab-delimited text whose first line is the header. Duplicate
// SKUs keep the last row seen. Rows without a SKU are dropped.
func Parse(text string) Result {
	res := Result{Items: make(map[string]model.PlanningRecord)}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	headerAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return res
	}

	rawHeader := strings.Split(strings.TrimPrefix(lines[headerAt], "\ufeff"), "\t")
	header := make([]string, len(rawHeader))
	for i, h := range rawHeader {
		header[i] = NormalizeHeader(h)
	}

	for _, line := range lines[headerAt+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Rows++

		cells := strings.Split(line, "\t")
		row := make(map[string]string, len(header))
		for i, col := range header {
			v := ""
			if i < len(cells) {
				v = strings.TrimSpace(cells[i])
			}
			row[col] = v
		}

		rec, ok := recordFromRow(row)
		if !ok {
			res.Dropped++
			continue
		}
		res.Items[rec.SKU] = rec
		res.AgingRiskTotal += extract.AgingRisk(rec.EstimatedLongTermStorageFee, rec.EstimatedMonthlyStorageCost)
	}

	return res
}

func recordFromRow(row map[string]string) (model.PlanningRecord, bool) {
	sku := first(row, "sku", "seller-sku", "seller-sku-sku")
	if sku == "" {
		return model.PlanningRecord{}, false
	}

	// A zero units-shipped-t7 falls through to the secondary column as well, so a
	// true zero can be masked by the fallback.
	sales := extract.ParseNumber(row["units-shipped-t7"])
	if sales == 0 {
		sales = extract.ParseNumber(row["sales-shipped-last-7-days"])
	}

	return model.PlanningRecord{
		SKU:       sku,
		Title:     first(row, "product-name", "title", "item-name"),
		Available: extract.ParseNumber(first(row, "available", "available-quantity")),
		Reserved:  extract.ParseNumber(first(row, "reserved-quantity", "total-reserved-quantity")),
		Inbound: extract.ParseNumber(row["inbound-working-quantity"]) +
			extract.ParseNumber(row["inbound-shipped-quantity"]) +
			extract.ParseNumber(row["inbound-receiving-quantity"]) +
			extract.ParseNumber(row["inbound-quantity"]),
		Sales7d:         sales,
		SellThroughRate: extract.ParsePercent(first(row, "sell-through", "sell-through-rate")),
		Age90PlusUnits:  extract.AgedUnits(row),
		EstimatedLongTermStorageFee: extract.ParseNumber(row["estimated-ltsf-next-charge"]) +
			extract.ParseNumber(row["projected-ltsf-11-mo"]),
		EstimatedMonthlyStorageCost: extract.ParseNumber(row["estimated-storage-cost-next-month"]),
	}, true
}

// first returns the first non-empty value among the candidate columns.
func first(row map[string]string, cols ...string) string {
	for _, c := range cols {
		if v := row[c]; v != "" {
			return v
		}
	}
	return ""
}
