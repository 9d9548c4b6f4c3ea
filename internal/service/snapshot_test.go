package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fba-sync-api/internal/model"
	"fba-sync-api/internal/spapi"
)

func summary(sku string, fulfillable float64, title string) map[string]any {
	m := map[string]any{
		"sellerSku": sku,
		"asin":      "B0" + sku,
		"inventoryDetails": map[string]any{
			"fulfillableQuantity": fulfillable,
			"reservedQuantity":    map[string]any{"totalReservedQuantity": 0.0},
		},
	}
	if title != "" {
		m["productName"] = title
	}
	return m
}

func TestMergeInventoryPrecedence(t *testing.T) {
	planning := &model.PlanningCacheEntry{
		Items: map[string]model.PlanningRecord{
			"ZERO": {SKU: "ZERO", Title: "Planning Title", Available: 42, Reserved: 3, Sales7d: 9, Age90PlusUnits: 2, SellThroughRate: 0.125},
			"KEEP": {SKU: "KEEP", Available: 42},
			"ONLY": {SKU: "ONLY", Available: 7, Inbound: 5},
		},
		AgingRiskTotal: 12.5,
	}
	live := []map[string]any{
		summary("ZERO", 0, "Live Title"),
		summary("KEEP", 10, ""),
		{"asin": "no-sku"},
	}

	items := MergeInventory(live, planning)
	require.Len(t, items, 3)

	zero := items[0]
	assert.Equal(t, "ZERO", zero.SKU)
	assert.Equal(t, 42.0, zero.OnHand, "zero live quantity is filled from planning")
	assert.Equal(t, 3.0, zero.Reserved)
	assert.Equal(t, "Planning Title", zero.Title)
	assert.Equal(t, 9.0, zero.Sales7d)
	assert.True(t, zero.Age90Plus)
	assert.Equal(t, 0.125, zero.SellThrough)
	assert.Equal(t, model.SourceMerged, zero.Source)

	keep := items[1]
	assert.Equal(t, 10.0, keep.OnHand, "nonzero live quantity wins")
	assert.Equal(t, "KEEP", keep.Title, "empty titles fall back to the sku")
	assert.False(t, keep.Age90Plus)

	only := items[2]
	assert.Equal(t, "ONLY", only.SKU)
	assert.Equal(t, 7.0, only.OnHand)
	assert.Equal(t, 5.0, only.Inbound)
	assert.Equal(t, model.SourcePlanning, only.Source)
}

func TestMergeInventoryWithoutPlanning(t *testing.T) {
	items := MergeInventory([]map[string]any{
		{
			"sellerSku":     "A",
			"totalQuantity": "12",
			"inventoryDetails": map[string]any{
				"inboundWorkingQuantity":   1.0,
				"inboundShippedQuantity":   2.0,
				"inboundReceivingQuantity": 3.0,
			},
		},
	}, nil)

	require.Len(t, items, 1)
	assert.Equal(t, 12.0, items[0].OnHand, "falls through to totalQuantity")
	assert.Equal(t, 6.0, items[0].Inbound)
	assert.Equal(t, "A", items[0].Title)
	assert.Zero(t, items[0].Sales7d)
	assert.False(t, items[0].Age90Plus)
	assert.Zero(t, items[0].SellThrough)
	assert.Equal(t, model.SourceLive, items[0].Source)
}

func snapshotUpstream(liveErr error, shipmentCalls *atomic.Int32) *fakeUpstream {
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, params url.Values) (any, error) {
		switch path {
		case summariesPath:
			if liveErr != nil {
				return nil, liveErr
			}
			if params.Get("nextToken") == "" {
				return map[string]any{
					"payload":    map[string]any{"inventorySummaries": []any{summary("A", 0, "Alpha")}},
					"pagination": map[string]any{"nextToken": "page2"},
				}, nil
			}
			return map[string]any{
				"payload": map[string]any{"inventorySummaries": []any{summary("B", 4, "Beta")}},
			}, nil
		case shipmentsPath:
			shipmentCalls.Add(1)
			return map[string]any{"payload": map[string]any{"ShipmentData": []any{
				map[string]any{"ShipmentId": "FBA15ABC", "ShipmentName": "March restock", "ShipmentStatus": "SHIPPED"},
			}}}, nil
		}
		return nil, errors.New("unexpected path " + path)
	}
	return up
}

func TestSnapshotMergesLivePlanningAndShipments(t *testing.T) {
	clock := newClock()
	store := newTestStore(clock)
	var shipmentCalls atomic.Int32
	svc := NewSnapshotService(snapshotUpstream(nil, &shipmentCalls), allowAll, store, testLogger)

	store.Planning.Set("US", &model.PlanningCacheEntry{
		FetchedAt:      clock.Now(),
		Items:          map[string]model.PlanningRecord{"A": {SKU: "A", Available: 42}},
		AgingRiskTotal: 8.25,
	})

	snap, err := svc.Snapshot(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, model.Region("US"), snap.Region)
	assert.False(t, snap.Degraded)
	assert.Equal(t, 8.25, snap.AgingRiskTotal)
	require.NotNil(t, snap.PlanningFetchedAt)
	require.Len(t, snap.Items, 2, "both pages are read")
	assert.Equal(t, 42.0, snap.Items[0].OnHand)
	require.Len(t, snap.Shipments, 1)
	assert.Equal(t, "FBA15ABC", snap.Shipments[0].ID)

	// The shipment list is served from its own cache within its TTL.
	clock.Advance(4 * time.Minute)
	_, err = svc.Snapshot(context.Background(), "US")
	require.NoError(t, err)
	assert.Equal(t, int32(1), shipmentCalls.Load())

	clock.Advance(2 * time.Minute)
	_, err = svc.Snapshot(context.Background(), "US")
	require.NoError(t, err)
	assert.Equal(t, int32(2), shipmentCalls.Load())
}

func TestSnapshotWithoutPlanningHasZeroAgingRisk(t *testing.T) {
	clock := newClock()
	var shipmentCalls atomic.Int32
	svc := NewSnapshotService(snapshotUpstream(nil, &shipmentCalls), allowAll, newTestStore(clock), testLogger)

	snap, err := svc.Snapshot(context.Background(), "US")
	require.NoError(t, err)
	assert.Zero(t, snap.AgingRiskTotal)
	assert.Nil(t, snap.PlanningFetchedAt)
}

func TestSnapshotDegradesToPlanning(t *testing.T) {
	clock := newClock()
	store := newTestStore(clock)
	var shipmentCalls atomic.Int32
	liveErr := &spapi.APIError{StatusCode: http.StatusServiceUnavailable}
	svc := NewSnapshotService(snapshotUpstream(liveErr, &shipmentCalls), allowAll, store, testLogger)

	_, err := svc.Snapshot(context.Background(), "US")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	store.Planning.Set("US", &model.PlanningCacheEntry{
		FetchedAt: clock.Now(),
		Items:     map[string]model.PlanningRecord{"A": {SKU: "A", Available: 3}},
	})
	snap, err := svc.Snapshot(context.Background(), "US")
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, model.SourcePlanning, snap.Items[0].Source)
}

func TestSnapshotValidation(t *testing.T) {
	clock := newClock()
	var shipmentCalls atomic.Int32
	deny := validatorFunc(func(_ context.Context, r model.Region) error {
		if r == "JP" {
			return spapi.ErrMissingCredentials
		}
		return nil
	})
	svc := NewSnapshotService(snapshotUpstream(nil, &shipmentCalls), deny, newTestStore(clock), testLogger)

	_, err := svc.Snapshot(context.Background(), "XX")
	assert.ErrorIs(t, err, model.ErrUnknownRegion)

	_, err = svc.Snapshot(context.Background(), "JP")
	assert.ErrorIs(t, err, spapi.ErrMissingCredentials)

	_, err = svc.Snapshots(context.Background(), []string{"US", "JP"})
	assert.ErrorIs(t, err, spapi.ErrMissingCredentials)
}

func TestSnapshotsKeepsHealthyRegions(t *testing.T) {
	clock := newClock()
	var shipmentCalls atomic.Int32
	up := snapshotUpstream(nil, &shipmentCalls)
	healthy := up.get
	up.get = func(region model.Region, path string, params url.Values) (any, error) {
		if region == "UK" && path == summariesPath {
			return nil, &spapi.APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return healthy(region, path, params)
	}
	svc := NewSnapshotService(up, allowAll, newTestStore(clock), testLogger)

	snaps, err := svc.Snapshots(context.Background(), []string{"US", "UK"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	us, uk := snaps[0], snaps[1]
	assert.Equal(t, model.Region("US"), us.Region)
	assert.Empty(t, us.Error)
	assert.Len(t, us.Items, 2)

	assert.Equal(t, model.Region("UK"), uk.Region)
	assert.Contains(t, uk.Error, ErrUpstreamUnavailable.Error())
	assert.Empty(t, uk.Items)
	assert.NotNil(t, uk.Items)
}

func TestSnapshotsFailsWhenEveryRegionFails(t *testing.T) {
	clock := newClock()
	var shipmentCalls atomic.Int32
	liveErr := &spapi.APIError{StatusCode: http.StatusServiceUnavailable}
	svc := NewSnapshotService(snapshotUpstream(liveErr, &shipmentCalls), allowAll, newTestStore(clock), testLogger)

	_, err := svc.Snapshots(context.Background(), []string{"US", "UK"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSnapshotsFanOut(t *testing.T) {
	clock := newClock()
	var shipmentCalls atomic.Int32
	svc := NewSnapshotService(snapshotUpstream(nil, &shipmentCalls), allowAll, newTestStore(clock), testLogger)

	snaps, err := svc.Snapshots(context.Background(), []string{"US", "uk", "US", "DE"})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, model.Region("US"), snaps[0].Region)
	assert.Equal(t, model.Region("UK"), snaps[1].Region)
	assert.Equal(t, model.Region("DE"), snaps[2].Region)
	assert.Equal(t, int32(3), shipmentCalls.Load())
}
