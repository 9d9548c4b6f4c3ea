package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownRegion is returned when a marketplace code is not in the region table.
var ErrUnknownRegion = errors.New("unknown region")

// Region is a marketplace code such as "US" or "UK".
type Region string

// EndpointGroup identifies the regional API host that serves a marketplace.
type EndpointGroup string

const (
	EndpointNA EndpointGroup = "NA"
	EndpointEU EndpointGroup = "EU"
	EndpointFE EndpointGroup = "FE"
)

// RegionInfo describes how a marketplace is reached upstream.
type RegionInfo struct {
	Code          Region        `json:"code"`
	Endpoint      EndpointGroup `json:"endpoint"`
	MarketplaceID string        `json:"marketplace_id"`
}

// regions is fixed at build time.
var regions = map[Region]RegionInfo{
	"US": {Code: "US", Endpoint: EndpointNA, MarketplaceID: "ATVPDKIKX0DER"},
	"CA": {Code: "CA", Endpoint: EndpointNA, MarketplaceID: "A2EUQ1WTGCTBG2"},
	"MX": {Code: "MX", Endpoint: EndpointNA, MarketplaceID: "A1AM78C64UM0Y8"},
	"BR": {Code: "BR", Endpoint: EndpointNA, MarketplaceID: "A2Q3Y263D00KWC"},
	"UK": {Code: "UK", Endpoint: EndpointEU, MarketplaceID: "A1F83G8C2ARO7P"},
	"DE": {Code: "DE", Endpoint: EndpointEU, MarketplaceID: "A1PA6795UKMFR9"},
	"FR": {Code: "FR", Endpoint: EndpointEU, MarketplaceID: "A13V1IB3VIYZZH"},
	"IT": {Code: "IT", Endpoint: EndpointEU, MarketplaceID: "APJ6JRA9NG5V4"},
	"ES": {Code: "ES", Endpoint: EndpointEU, MarketplaceID: "A1RKKUPIHCS9HS"},
	"NL": {Code: "NL", Endpoint: EndpointEU, MarketplaceID: "A1805IZSGTT6HS"},
	"SE": {Code: "SE", Endpoint: EndpointEU, MarketplaceID: "A2NODRKZP88ZB9"},
	"PL": {Code: "PL", Endpoint: EndpointEU, MarketplaceID: "A1C3SOZRARQ6R3"},
	"JP": {Code: "JP", Endpoint: EndpointFE, MarketplaceID: "A1VC38T7YXB528"},
	"AU": {Code: "AU", Endpoint: EndpointFE, MarketplaceID: "A39IBJ37TRP1C6"},
	"SG": {Code: "SG", Endpoint: EndpointFE, MarketplaceID: "A19VAU5U5O7RUS"},
}

// LookupRegion resolves a marketplace code, case-insensitively.
func LookupRegion(code string) (RegionInfo, error) {
	info, ok := regions[Region(strings.ToUpper(strings.TrimSpace(code)))]
	if !ok {
		return RegionInfo{}, fmt.Errorf("%w: %q", ErrUnknownRegion, code)
	}
	return info, nil
}

// ParseRegions resolves a list of codes, rejecting the first unknown one.
// Duplicates are dropped while preserving order.
func ParseRegions(codes []string) ([]Region, error) {
	out := make([]Region, 0, len(codes))
	seen := make(map[Region]bool, len(codes))
	for _, c := range codes {
		if strings.TrimSpace(c) == "" {
			continue
		}
		info, err := LookupRegion(c)
		if err != nil {
			return nil, err
		}
		if seen[info.Code] {
			continue
		}
		seen[info.Code] = true
		out = append(out, info.Code)
	}
	return out, nil
}

// AllRegions returns every known region code in sorted order.
func AllRegions() []Region {
	out := make([]Region, 0, len(regions))
	for code := range regions {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
