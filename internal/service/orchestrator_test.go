package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fba-sync-api/internal/model"
	"fba-sync-api/internal/repository"
	"fba-sync-api/internal/spapi"
)

type sleepRecorder struct {
	count atomic.Int32
	total atomic.Int64
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.count.Add(1)
	s.total.Add(int64(d))
	return nil
}

func newTestOrchestrator(up *fakeUpstream, clock *fakeClock, runs *memRuns, sleeper *sleepRecorder) *Orchestrator {
	cfg := DefaultOrchestratorConfig()
	cfg.Sleep = sleeper.Sleep
	var repo repository.RunRepository
	if runs != nil {
		repo = runs
	}
	return NewOrchestrator(up, newTestStore(clock), repo, cfg, testLogger)
}

func noReports(model.Region, string, url.Values) (any, error) {
	return map[string]any{"reports": []any{}}, nil
}

func TestOrchestratorEndToEnd(t *testing.T) {
	clock := newClock()
	runs := &memRuns{}
	sleeper := &sleepRecorder{}

	var polls atomic.Int32
	rateLimited := false
	up := &fakeUpstream{}
	up.get = func(region model.Region, path string, params url.Values) (any, error) {
		switch {
		case path == reportsPath:
			assert.Equal(t, DefaultReportType, params.Get("reportTypes"))
			assert.Equal(t, "ATVPDKIKX0DER", params.Get("marketplaceIds"))
			return noReports(region, path, params)
		case path == reportsPath+"/R1":
			if polls.Add(1) < 3 {
				return map[string]any{"reportId": "R1", "processingStatus": "IN_PROGRESS"}, nil
			}
			return map[string]any{"reportId": "R1", "processingStatus": "DONE", "reportDocumentId": "D1"}, nil
		case path == documentsPath+"/D1":
			return map[string]any{"url": "https://docs.example/D1", "compressionAlgorithm": "GZIP"}, nil
		}
		t.Fatalf("unexpected GET %s", path)
		return nil, nil
	}
	up.post = func(_ model.Region, path string, _ any) (any, error) {
		if rateLimited {
			return nil, &spapi.APIError{StatusCode: http.StatusTooManyRequests, Path: path}
		}
		return map[string]any{"reportId": "R1"}, nil
	}
	up.download = func(string) ([]byte, error) { return planningReport(150), nil }

	orch := newTestOrchestrator(up, clock, runs, sleeper)
	ctx := context.Background()

	// Run 1: create, poll three times, cache 150 records.
	res := orch.Refresh(ctx, "US", model.TriggerScheduled)
	require.NoError(t, res.Err)
	assert.Equal(t, model.OutcomeRefreshed, res.Outcome)
	assert.Equal(t, "R1", res.ReportID)
	assert.Equal(t, 150, res.Records)
	assert.InDelta(t, 75.0, res.AgingRiskTotal, 1e-9)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, int32(2), sleeper.count.Load(), "sleeps only between attempts")
	assert.Equal(t, int64(20*time.Second), sleeper.total.Load())

	entry, ok := orch.store.Planning.Get("US")
	require.True(t, ok)
	require.Len(t, entry.Items, 150)
	assert.Equal(t, "Widget 42", entry.Items["SKU-042"].Title)
	fetchedAt := entry.FetchedAt

	// Run 2: fresh cache short-circuits with zero upstream calls.
	up.Reset()
	clock.Advance(time.Hour)
	res = orch.Refresh(ctx, "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeCached, res.Outcome)
	assert.Empty(t, up.Calls())
	entry, ok = orch.store.Planning.Get("US")
	require.True(t, ok)
	assert.Equal(t, fetchedAt, entry.FetchedAt)

	// Run 3: expired cache and a rate-limited create sets the default cooldown.
	up.Reset()
	clock.Advance(5*time.Hour + time.Second)
	rateLimited = true
	res = orch.Refresh(ctx, "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeRateLimited, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"GET " + reportsPath, "POST " + reportsPath}, up.Calls())

	until, blocked := orch.store.Cooldowns.Until("US")
	require.True(t, blocked)
	assert.Equal(t, clock.Now().Add(15*time.Minute), until)

	// Run 4: still cooling down, no creation attempted.
	up.Reset()
	res = orch.Refresh(ctx, "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeCoolingDown, res.Outcome)
	assert.Equal(t, []string{"GET " + reportsPath}, up.Calls())

	assert.Equal(t, []model.Outcome{
		model.OutcomeRefreshed, model.OutcomeCached, model.OutcomeRateLimited, model.OutcomeCoolingDown,
	}, runs.Outcomes())
}

func TestOrchestratorRetryAfterHint(t *testing.T) {
	clock := newClock()
	up := &fakeUpstream{get: noReports}
	up.post = func(model.Region, string, any) (any, error) {
		return nil, &spapi.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 2 * time.Minute}
	}
	orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

	res := orch.Refresh(context.Background(), "UK", model.TriggerManual)
	assert.Equal(t, model.OutcomeRateLimited, res.Outcome)

	until, ok := orch.store.Cooldowns.Until("UK")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(2*time.Minute), until)
}

func TestOrchestratorReusesDoneReport(t *testing.T) {
	clock := newClock()
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
		switch path {
		case reportsPath:
			return map[string]any{"reports": []any{
				map[string]any{"reportId": "OLD", "processingStatus": "DONE", "createdTime": "2026-03-01T02:00:00Z", "reportDocumentId": "D-OLD"},
				map[string]any{"reportId": "NEW", "processingStatus": "DONE", "createdTime": "2026-03-01T09:30:00Z", "reportDocumentId": "D-NEW"},
				map[string]any{"reportId": "BAD", "processingStatus": "FATAL", "createdTime": "2026-03-01T11:00:00Z"},
			}}, nil
		case documentsPath + "/D-NEW":
			return map[string]any{"url": "https://docs.example/new"}, nil
		}
		t.Fatalf("unexpected GET %s", path)
		return nil, nil
	}
	up.download = func(string) ([]byte, error) {
		return []byte("sku\tavailable\nA\t4\nB\t5\n"), nil
	}
	orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

	// A cooldown does not stop reuse of finished work.
	orch.store.Cooldowns.Block("US", time.Hour)

	res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
	require.NoError(t, res.Err)
	assert.Equal(t, model.OutcomeReused, res.Outcome)
	assert.Equal(t, "NEW", res.ReportID)
	assert.Equal(t, 2, res.Records)
	for _, c := range up.Calls() {
		assert.False(t, strings.HasPrefix(c, "POST"), "no report creation when reusing")
	}
}

func TestOrchestratorPollsPendingReport(t *testing.T) {
	clock := newClock()
	sleeper := &sleepRecorder{}
	var polls atomic.Int32
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
		switch path {
		case reportsPath:
			return map[string]any{"reports": []any{
				map[string]any{"reportId": "P1", "processingStatus": "IN_QUEUE", "createdTime": "2026-03-01T11:50:00Z"},
			}}, nil
		case reportsPath + "/P1":
			if polls.Add(1) == 1 {
				return map[string]any{"processingStatus": "IN_PROGRESS"}, nil
			}
			return map[string]any{"processingStatus": "DONE", "reportDocumentId": "DP1"}, nil
		case documentsPath + "/DP1":
			return map[string]any{"url": "https://docs.example/p1"}, nil
		}
		t.Fatalf("unexpected GET %s", path)
		return nil, nil
	}
	up.download = func(string) ([]byte, error) { return []byte("sku\nA\n"), nil }
	orch := newTestOrchestrator(up, clock, nil, sleeper)

	res := orch.Refresh(context.Background(), "DE", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeReused, res.Outcome)
	assert.Equal(t, "P1", res.ReportID)
	assert.Equal(t, int32(2), polls.Load())
	assert.Equal(t, int32(1), sleeper.count.Load())
}

func TestOrchestratorTerminalFailure(t *testing.T) {
	for _, status := range []string{"CANCELLED", "FATAL"} {
		t.Run(status, func(t *testing.T) {
			clock := newClock()
			up := &fakeUpstream{}
			up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
				if path == reportsPath {
					return map[string]any{"reports": []any{}}, nil
				}
				return map[string]any{"processingStatus": status}, nil
			}
			up.post = func(model.Region, string, any) (any, error) { return map[string]any{"reportId": "R9"}, nil }
			orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

			res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
			assert.Equal(t, model.OutcomeJobFailed, res.Outcome)
			assert.Error(t, res.Err)
			_, ok := orch.store.Planning.Peek("US")
			assert.False(t, ok, "no cache update")
		})
	}
}

func TestOrchestratorPollCeiling(t *testing.T) {
	clock := newClock()
	sleeper := &sleepRecorder{}
	var polls atomic.Int32
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
		if path == reportsPath {
			return map[string]any{"reports": []any{}}, nil
		}
		if polls.Add(1)%4 == 0 {
			return nil, errors.New("connection reset")
		}
		return map[string]any{"processingStatus": "IN_PROGRESS"}, nil
	}
	up.post = func(model.Region, string, any) (any, error) { return map[string]any{"reportId": "R2"}, nil }
	orch := newTestOrchestrator(up, clock, nil, sleeper)

	res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeTimedOut, res.Outcome)
	assert.Equal(t, int32(12), polls.Load())
	assert.Equal(t, int32(11), sleeper.count.Load())
}

func TestOrchestratorListFailureFallsThroughToCreate(t *testing.T) {
	clock := newClock()
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
		switch path {
		case reportsPath:
			return nil, &spapi.APIError{StatusCode: http.StatusInternalServerError}
		case reportsPath + "/R3":
			return map[string]any{"processingStatus": "DONE", "reportDocumentId": "D3"}, nil
		case documentsPath + "/D3":
			return map[string]any{"url": "https://docs.example/d3"}, nil
		}
		return nil, errors.New("unexpected")
	}
	up.post = func(model.Region, string, any) (any, error) { return map[string]any{"reportId": "R3"}, nil }
	up.download = func(string) ([]byte, error) { return []byte("sku\nZ\n"), nil }
	orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

	res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeRefreshed, res.Outcome)
	assert.Equal(t, 1, res.Records)
}

func TestOrchestratorDownloadFailureIsSoft(t *testing.T) {
	clock := newClock()
	up := &fakeUpstream{}
	up.get = func(_ model.Region, path string, _ url.Values) (any, error) {
		switch path {
		case reportsPath:
			return map[string]any{"reports": []any{}}, nil
		case documentsPath + "/D4":
			return map[string]any{"url": "https://docs.example/d4"}, nil
		}
		return map[string]any{"processingStatus": "DONE", "reportDocumentId": "D4"}, nil
	}
	up.post = func(model.Region, string, any) (any, error) { return map[string]any{"reportId": "R4"}, nil }
	up.download = func(string) ([]byte, error) { return nil, &spapi.APIError{StatusCode: http.StatusForbidden} }
	orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

	prior := &model.PlanningCacheEntry{FetchedAt: clock.Now().Add(-7 * time.Hour)}
	orch.store.Planning.Restore("US", prior, prior.FetchedAt, 6*time.Hour)

	res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeError, res.Outcome)
	assert.Error(t, res.Err)

	e, ok := orch.store.Planning.Peek("US")
	require.True(t, ok)
	assert.Same(t, prior, e.Value, "prior entry is left in place")
}

func TestOrchestratorInFlightGuard(t *testing.T) {
	clock := newClock()
	up := &fakeUpstream{}
	orch := newTestOrchestrator(up, clock, nil, &sleepRecorder{})

	require.True(t, orch.acquire("US"))
	assert.True(t, orch.IsRefreshing("US"))

	res := orch.Refresh(context.Background(), "US", model.TriggerManual)
	assert.Equal(t, model.OutcomeInProgress, res.Outcome)
	assert.Empty(t, up.Calls())

	orch.release("US")
	assert.False(t, orch.IsRefreshing("US"))
}

func TestOrchestratorRechecksCacheAfterAcquire(t *testing.T) {
	clock := newClock()
	runs := &memRuns{}
	up := &fakeUpstream{}
	orch := newTestOrchestrator(up, clock, runs, &sleepRecorder{})

	// Another refresh lands its result while this one waits for the guard.
	orch.afterAcquire = func(region model.Region) {
		orch.store.Planning.Set(region, &model.PlanningCacheEntry{
			FetchedAt: clock.Now(),
			Items:     map[string]model.PlanningRecord{"A": {SKU: "A", Available: 1}},
		})
	}

	res := orch.Refresh(context.Background(), "US", model.TriggerScheduled)
	assert.Equal(t, model.OutcomeCached, res.Outcome)
	assert.Empty(t, up.Calls(), "no report is requested or downloaded again")
	assert.False(t, orch.IsRefreshing("US"))
	assert.Equal(t, []model.Outcome{model.OutcomeCached}, runs.Outcomes())
}
