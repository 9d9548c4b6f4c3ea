package model

import "time"

// PlanningRecord is one SKU row of the bulk planning report.
type PlanningRecord struct {
	SKU                         string  `json:"sku"`
	Title                       string  `json:"title"`
	Available                   float64 `json:"available"`
	Reserved                    float64 `json:"reserved"`
	Inbound                     float64 `json:"inbound"`
	Sales7d                     float64 `json:"sales_7d"`
	SellThroughRate             float64 `json:"sell_through_rate"`
	Age90PlusUnits              float64 `json:"age_90_plus_units"`
	EstimatedLongTermStorageFee float64 `json:"estimated_ltsf"`
	EstimatedMonthlyStorageCost float64 `json:"estimated_storage_cost"`
}

// PlanningCacheEntry is the parsed result of one planning report for a region.
// It is replaced wholesale and never mutated after it is stored.
type PlanningCacheEntry struct {
	FetchedAt      time.Time                 `json:"fetched_at"`
	ReportID       string                    `json:"report_id,omitempty"`
	Items          map[string]PlanningRecord `json:"items"`
	AgingRiskTotal float64                   `json:"aging_risk_total"`
}

// MergedInventoryItem is the externally visible per-SKU view.
type MergedInventoryItem struct {
	SKU         string   `json:"sku"`
	ASIN        string   `json:"asin,omitempty"`
	Title       string   `json:"title"`
	OnHand      float64  `json:"on_hand"`
	Reserved    float64  `json:"reserved"`
	Inbound     float64  `json:"inbound"`
	Sales7d     float64  `json:"sales_7d"`
	Age90Plus   bool     `json:"age_90_plus"`
	SellThrough float64  `json:"sell_through"`
	Margin      *float64 `json:"margin,omitempty"`
	Suppressed  bool     `json:"suppressed"`
	Stranded    bool     `json:"stranded"`
	Source      string   `json:"source"`
}

// Item sources.
const (
	SourceLive     = "live"
	SourcePlanning = "planning"
	SourceMerged   = "live+planning"
)

// Snapshot is the merged view of one region, built fresh per request.
type Snapshot struct {
	Region            Region                `json:"region"`
	Items             []MergedInventoryItem `json:"items"`
	Shipments         []Shipment            `json:"shipments"`
	AgingRiskTotal    float64               `json:"aging_risk_total"`
	PlanningFetchedAt *time.Time            `json:"planning_fetched_at,omitempty"`
	Degraded          bool                  `json:"degraded"`
	FetchedAt         time.Time             `json:"fetched_at"`
	// Error is set when the region could not be served in a multi-region request.
	Error             string                `json:"error,omitempty"`
}
