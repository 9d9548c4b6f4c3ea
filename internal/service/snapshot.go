package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/extract"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/spapi"

	"golang.org/x/sync/errgroup"
)

// ErrUpstreamUnavailable is returned when the live call failed and no planning data can stand in.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const (
	summariesPath = "/fba/inventory/v1/summaries"
	shipmentsPath = "/fba/inbound/v0/shipments"

	defaultMaxPages = 20
)

// Open inbound shipment statuses.
var openShipmentStatuses = []string{"WORKING", "SHIPPED", "RECEIVING", "IN_TRANSIT", "DELIVERED", "CHECKED_IN"}

// Validator performs the caller-facing region checks.
type Validator interface {
	Validate(ctx context.Context, region model.Region) error
}

// SnapshotService builds merged per-region inventory views.
type SnapshotService struct {
	upstream  spapi.Upstream
	validator Validator
	store     *cache.Store
	maxPages  int
	logger    *slog.Logger
}

// NewSnapshotService creates a snapshot service.
func NewSnapshotService(upstream spapi.Upstream, validator Validator, store *cache.Store, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		upstream:  upstream,
		validator: validator,
		store:     store,
		maxPages:  defaultMaxPages,
		logger:    logger.With("component", "snapshot"),
	}
}

// Snapshots fetches several regions in parallel. A region that cannot be
// served is returned with Error set and no items; the call fails only when
// every region failed.
func (s *SnapshotService) Snapshots(ctx context.Context, codes []string) ([]*model.Snapshot, error) {
	regions, err := model.ParseRegions(codes)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if err := s.validator.Validate(ctx, r); err != nil {
			return nil, err
		}
	}

	out := make([]*model.Snapshot, len(regions))
	errs := make([]error, len(regions))
	var g errgroup.Group
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			out[i], errs[i] = s.build(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, r := range regions {
		if errs[i] == nil {
			continue
		}
		failed++
		s.logger.Warn("region snapshot failed", "region", r, "error", errs[i])
		out[i] = &model.Snapshot{
			Region:    r,
			Items:     []model.MergedInventoryItem{},
			Shipments: []model.Shipment{},
			FetchedAt: s.store.Now(),
			Error:     errs[i].Error(),
		}
	}
	if failed == len(regions) && failed > 0 {
		return nil, fmt.Errorf("%s: %w", regions[0], errs[0])
	}
	return out, nil
}

// Snapshot returns the merged view of one region.
func (s *SnapshotService) Snapshot(ctx context.Context, code string) (*model.Snapshot, error) {
	info, err := model.LookupRegion(code)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(ctx, info.Code); err != nil {
		return nil, err
	}
	return s.build(ctx, info.Code)
}

func (s *SnapshotService) build(ctx context.Context, region model.Region) (*model.Snapshot, error) {
	info, err := model.LookupRegion(string(region))
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("region", info.Code)

	var (
		live      []map[string]any
		liveErr   error
		shipments []model.Shipment
	)

	// Neither call cancels the other; a live failure may still be served from planning data.
	var g errgroup.Group
	g.Go(func() error {
		live, liveErr = s.liveSummaries(ctx, info)
		return nil
	})
	g.Go(func() error {
		shipments = s.cachedShipments(ctx, info, logger)
		return nil
	})
	_ = g.Wait()

	snap := &model.Snapshot{
		Region:    info.Code,
		Shipments: shipments,
		FetchedAt: s.store.Now(),
	}

	entry, fresh := s.store.Planning.Entry(info.Code)
	var planning *model.PlanningCacheEntry
	if fresh {
		planning = entry.Value
		fetched := planning.FetchedAt
		snap.PlanningFetchedAt = &fetched
		snap.AgingRiskTotal = planning.AgingRiskTotal
	}

	if liveErr != nil {
		if planning == nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, liveErr)
		}
		logger.Warn("live inventory failed, serving planning data", "error", liveErr)
		snap.Degraded = true
		live = nil
	}

	snap.Items = MergeInventory(live, planning)
	return snap, nil
}

// liveSummaries pages through the inventory summaries endpoint.
func (s *SnapshotService) liveSummaries(ctx context.Context, info model.RegionInfo) ([]map[string]any, error) {
	var all []map[string]any
	next := ""
	for page := 0; page < s.maxPages; page++ {
		params := url.Values{}
		params.Set("details", "true")
		params.Set("granularityType", "Marketplace")
		params.Set("granularityId", info.MarketplaceID)
		params.Set("marketplaceIds", info.MarketplaceID)
		if next != "" {
			params.Set("nextToken", next)
		}

		var resp struct {
			Payload struct {
				InventorySummaries []map[string]any `json:"inventorySummaries"`
			} `json:"payload"`
			Pagination struct {
				NextToken string `json:"nextToken"`
			} `json:"pagination"`
		}
		if err := s.upstream.Get(ctx, info.Code, summariesPath, params, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Payload.InventorySummaries...)

		next = resp.Pagination.NextToken
		if next == "" {
			return all, nil
		}
	}
	s.logger.Warn("inventory summaries truncated", "region", info.Code, "pages", s.maxPages)
	return all, nil
}

// cachedShipments serves the shipment list from its own TTL cache. A failed
// fetch yields the stale list if there is one, otherwise an empty list.
func (s *SnapshotService) cachedShipments(ctx context.Context, info model.RegionInfo, logger *slog.Logger) []model.Shipment {
	if list, ok := s.store.Shipments.Get(info.Code); ok {
		return list
	}

	list, err := s.fetchShipments(ctx, info)
	if err != nil {
		logger.Warn("shipment fetch failed", "error", err)
		if stale, ok := s.store.Shipments.Peek(info.Code); ok {
			return stale.Value
		}
		return []model.Shipment{}
	}
	s.store.Shipments.Set(info.Code, list)
	return list
}

func (s *SnapshotService) fetchShipments(ctx context.Context, info model.RegionInfo) ([]model.Shipment, error) {
	params := url.Values{}
	params.Set("ShipmentStatusList", strings.Join(openShipmentStatuses, ","))
	params.Set("QueryType", "SHIPMENT")
	params.Set("MarketplaceId", info.MarketplaceID)

	var resp struct {
		Payload struct {
			ShipmentData []map[string]any `json:"ShipmentData"`
		} `json:"payload"`
	}
	if err := s.upstream.Get(ctx, info.Code, shipmentsPath, params, &resp); err != nil {
		return nil, err
	}

	out := make([]model.Shipment, 0, len(resp.Payload.ShipmentData))
	for _, raw := range resp.Payload.ShipmentData {
		id := extract.FirstString(raw, "ShipmentId", "shipmentId")
		if id == "" {
			continue
		}
		units, _ := extract.FirstNumber(raw, "TotalUnits", "totalUnits", "QuantityShipped")
		out = append(out, model.Shipment{
			ID:     id,
			Name:   extract.FirstString(raw, "ShipmentName", "shipmentName"),
			Status: extract.FirstString(raw, "ShipmentStatus", "shipmentStatus"),
			ETA:    extract.FirstString(raw, "EstimatedArrivalDate", "ConfirmedNeedByDate", "eta"),
			Units:  units,
		})
	}
	return out, nil
}

// liveItem maps one raw inventory summary. ok is false when the row has no sku.
func liveItem(raw map[string]any) (model.MergedInventoryItem, bool) {
	sku := extract.FirstString(raw, "sellerSku", "sku", "sellerSKU")
	if sku == "" {
		return model.MergedInventoryItem{}, false
	}

	onHand, _ := extract.FirstNumber(raw,
		"inventoryDetails.fulfillableQuantity", "fulfillableQuantity", "totalQuantity")
	reserved, _ := extract.FirstNumber(raw,
		"inventoryDetails.reservedQuantity.totalReservedQuantity", "reservedQuantity.totalReservedQuantity", "totalReservedQuantity")
	inbound, ok := extract.FirstNumber(raw, "inboundQuantity", "inventoryDetails.inboundQuantity")
	if !ok {
		for _, p := range []string{
			"inventoryDetails.inboundWorkingQuantity",
			"inventoryDetails.inboundShippedQuantity",
			"inventoryDetails.inboundReceivingQuantity",
		} {
			n, _ := extract.FirstNumber(raw, p)
			inbound += n
		}
	}

	title := extract.FirstString(raw, "productName", "title", "itemName")
	if title == "" {
		title = sku
	}

	return model.MergedInventoryItem{
		SKU:      sku,
		ASIN:     extract.FirstString(raw, "asin"),
		Title:    title,
		OnHand:   onHand,
		Reserved: reserved,
		Inbound:  inbound,
		Source:   model.SourceLive,
	}, true
}

// planningItem builds an item for a planning record the live feed did not report.
func planningItem(rec model.PlanningRecord) model.MergedInventoryItem {
	title := rec.Title
	if title == "" {
		title = rec.SKU
	}
	return model.MergedInventoryItem{
		SKU:         rec.SKU,
		Title:       title,
		OnHand:      rec.Available,
		Reserved:    rec.Reserved,
		Inbound:     rec.Inbound,
		Sales7d:     rec.Sales7d,
		Age90Plus:   rec.Age90PlusUnits > 0,
		SellThrough: rec.SellThroughRate,
		Source:      model.SourcePlanning,
	}
}

// MergeInventory reconciles live summaries with a planning entry (which may be nil).
// Planning data fills zero live quantities but never overrides a nonzero one;
// sales, aging and sell-through always come from planning. Planning records
// with no live match are appended, sorted by sku.
func MergeInventory(live []map[string]any, planning *model.PlanningCacheEntry) []model.MergedInventoryItem {
	items := make([]model.MergedInventoryItem, 0, len(live))
	seen := make(map[string]bool, len(live))

	for _, raw := range live {
		item, ok := liveItem(raw)
		if !ok {
			continue
		}
		seen[item.SKU] = true

		if planning != nil {
			if rec, found := planning.Items[item.SKU]; found {
				if rec.Title != "" {
					item.Title = rec.Title
				}
				if item.OnHand == 0 {
					item.OnHand = rec.Available
				}
				if item.Reserved == 0 {
					item.Reserved = rec.Reserved
				}
				if item.Inbound == 0 {
					item.Inbound = rec.Inbound
				}
				item.Sales7d = rec.Sales7d
				item.Age90Plus = rec.Age90PlusUnits > 0
				item.SellThrough = rec.SellThroughRate
				item.Source = model.SourceMerged
			}
		}
		items = append(items, item)
	}

	if planning == nil {
		return items
	}

	missing := make([]string, 0)
	for sku := range planning.Items {
		if !seen[sku] {
			missing = append(missing, sku)
		}
	}
	sort.Strings(missing)
	for _, sku := range missing {
		items = append(items, planningItem(planning.Items[sku]))
	}
	return items
}
