package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/metrics"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/report"
	"fba-sync-api/internal/repository"
	"fba-sync-api/internal/spapi"
	"fba-sync-api/pkg/uid"
)

// Report API paths.
const (
	reportsPath   = "/reports/2021-06-30/reports"
	documentsPath = "/reports/2021-06-30/documents"
)

// Report processing statuses.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusDone       = "DONE"
	statusCancelled  = "CANCELLED"
	statusFatal      = "FATAL"
)

// DefaultReportType is the bulk planning export.
const DefaultReportType = "GET_FBA_INVENTORY_PLANNING_DATA"

// OrchestratorConfig holds the report job parameters.
type OrchestratorConfig struct {
	ReportType      string
	ReuseWindow     time.Duration
	PollAttempts    int
	PollInterval    time.Duration
	DefaultCooldown time.Duration

	// Sleep waits between polls; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOrchestratorConfig returns the production job parameters.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ReportType:      DefaultReportType,
		ReuseWindow:     24 * time.Hour,
		PollAttempts:    12,
		PollInterval:    10 * time.Second,
		DefaultCooldown: 15 * time.Minute,
	}
}

// RefreshResult is the outcome of one Refresh call.
type RefreshResult struct {
	Outcome        model.Outcome
	ReportID       string
	Records        int
	AgingRiskTotal float64
	Err            error
}

// Orchestrator drives the planning report state machine for a region:
// short-circuit, reuse, cooldown gate, create, poll, download, parse, cache.
type Orchestrator struct {
	upstream spapi.Upstream
	store    *cache.Store
	runs     repository.RunRepository
	cfg      OrchestratorConfig
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[model.Region]bool

	// afterAcquire, if set, runs once the region guard is held.
	afterAcquire func(model.Region)
}

// NewOrchestrator creates an orchestrator. runs may be nil.
func NewOrchestrator(upstream spapi.Upstream, store *cache.Store, runs repository.RunRepository, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.ReportType == "" {
		cfg.ReportType = def.ReportType
	}
	if cfg.ReuseWindow <= 0 {
		cfg.ReuseWindow = def.ReuseWindow
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = def.DefaultCooldown
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Orchestrator{
		upstream: upstream,
		store:    store,
		runs:     runs,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		inflight: make(map[model.Region]bool),
	}
}

// IsRefreshing reports whether a refresh of region is running now.
func (o *Orchestrator) IsRefreshing(region model.Region) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[region]
}

func (o *Orchestrator) acquire(region model.Region) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[region] {
		return false
	}
	o.inflight[region] = true
	return true
}

func (o *Orchestrator) release(region model.Region) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, region)
}

// Refresh runs the state machine once. It never panics or returns an error
// to the caller; failures are reported in the result and logged.
func (o *Orchestrator) Refresh(ctx context.Context, region model.Region, trigger model.Trigger) RefreshResult {
	started := o.store.Now()

	if _, fresh := o.store.Planning.Get(region); fresh {
		return o.finish(ctx, region, trigger, started, RefreshResult{Outcome: model.OutcomeCached})
	}
	if !o.acquire(region) {
		return o.finish(ctx, region, trigger, started, RefreshResult{Outcome: model.OutcomeInProgress})
	}
	defer o.release(region)

	if o.afterAcquire != nil {
		o.afterAcquire(region)
	}
	// A refresh that finished between the check above and acquire already filled the cache.
	if _, fresh := o.store.Planning.Get(region); fresh {
		return o.finish(ctx, region, trigger, started, RefreshResult{Outcome: model.OutcomeCached})
	}

	return o.finish(ctx, region, trigger, started, o.refresh(ctx, region))
}

func (o *Orchestrator) refresh(ctx context.Context, region model.Region) RefreshResult {
	info, err := model.LookupRegion(string(region))
	if err != nil {
		return RefreshResult{Outcome: model.OutcomeError, Err: err}
	}
	logger := o.logger.With("region", info.Code)

	if existing, ok := o.findReusable(ctx, info, logger); ok {
		logger.Info("reusing recent report", "report_id", existing.ReportID, "status", existing.ProcessingStatus)
		docID := ""
		if strings.EqualFold(existing.ProcessingStatus, statusDone) {
			docID = existing.ReportDocumentID
		}
		res := o.complete(ctx, info, existing.ReportID, docID, logger)
		if res.Outcome == model.OutcomeRefreshed {
			res.Outcome = model.OutcomeReused
		}
		return res
	}

	if until, blocked := o.store.Cooldowns.Until(info.Code); blocked {
		logger.Info("report creation cooling down", "until", until)
		return RefreshResult{Outcome: model.OutcomeCoolingDown}
	}

	reportID, err := o.createReport(ctx, info)
	if err != nil {
		if spapi.IsRateLimited(err) {
			wait, ok := spapi.RetryAfter(err)
			if !ok {
				wait = o.cfg.DefaultCooldown
			}
			until := o.store.Cooldowns.Block(info.Code, wait)
			metrics.CooldownUntil.WithLabelValues(string(info.Code)).Set(float64(until.Unix()))
			logger.Warn("report creation rate limited", "cooldown", wait, "until", until)
			return RefreshResult{Outcome: model.OutcomeRateLimited}
		}
		return RefreshResult{Outcome: model.OutcomeError, Err: fmt.Errorf("create report: %w", err)}
	}
	logger.Info("report requested", "report_id", reportID)

	return o.complete(ctx, info, reportID, "", logger)
}

// complete polls reportID until it has a document (unless docID is already
// known), then downloads, parses and caches it.
func (o *Orchestrator) complete(ctx context.Context, info model.RegionInfo, reportID, docID string, logger *slog.Logger) RefreshResult {
	if docID == "" {
		var failed model.Outcome
		var err error
		docID, failed, err = o.poll(ctx, info, reportID, logger)
		if failed != "" {
			return RefreshResult{Outcome: failed, ReportID: reportID, Err: err}
		}
	}

	entry, err := o.fetchDocument(ctx, info, docID, logger)
	if err != nil {
		return RefreshResult{Outcome: model.OutcomeError, ReportID: reportID, Err: err}
	}
	entry.ReportID = reportID

	o.store.PutPlanning(ctx, info.Code, entry)
	metrics.PlanningRecords.WithLabelValues(string(info.Code)).Set(float64(len(entry.Items)))

	return RefreshResult{
		Outcome:        model.OutcomeRefreshed,
		ReportID:       reportID,
		Records:        len(entry.Items),
		AgingRiskTotal: entry.AgingRiskTotal,
	}
}

type reportSummary struct {
	ReportID         string `json:"reportId"`
	ReportType       string `json:"reportType"`
	ProcessingStatus string `json:"processingStatus"`
	CreatedTime      string `json:"createdTime"`
	ReportDocumentID string `json:"reportDocumentId"`
}

// findReusable returns the newest report of the configured type created inside
// the reuse window that is queued, running or done. A failed listing counts as none.
func (o *Orchestrator) findReusable(ctx context.Context, info model.RegionInfo, logger *slog.Logger) (reportSummary, bool) {
	cutoff := o.store.Now().Add(-o.cfg.ReuseWindow)
	params := url.Values{}
	params.Set("reportTypes", o.cfg.ReportType)
	params.Set("processingStatuses", strings.Join([]string{statusInQueue, statusInProgress, statusDone}, ","))
	params.Set("createdSince", cutoff.UTC().Format(time.RFC3339))
	params.Set("marketplaceIds", info.MarketplaceID)
	params.Set("pageSize", "10")

	var resp struct {
		Reports []reportSummary `json:"reports"`
	}
	if err := o.upstream.Get(ctx, info.Code, reportsPath, params, &resp); err != nil {
		logger.Warn("listing recent reports failed", "error", err)
		return reportSummary{}, false
	}

	var best reportSummary
	found := false
	for _, r := range resp.Reports {
		if r.ReportID == "" || !reusableStatus(r.ProcessingStatus) {
			continue
		}
		if r.ReportType != "" && r.ReportType != o.cfg.ReportType {
			continue
		}
		if created, err := time.Parse(time.RFC3339, r.CreatedTime); err == nil && created.Before(cutoff) {
			continue
		}
		// ISO-8601 timestamps order lexicographically.
		if !found || r.CreatedTime > best.CreatedTime {
			best = r
			found = true
		}
	}
	return best, found
}

func reusableStatus(s string) bool {
	switch strings.ToUpper(s) {
	case statusInQueue, statusInProgress, statusDone:
		return true
	}
	return false
}

func (o *Orchestrator) createReport(ctx context.Context, info model.RegionInfo) (string, error) {
	body := map[string]any{
		"reportType":     o.cfg.ReportType,
		"marketplaceIds": []string{info.MarketplaceID},
	}
	var resp struct {
		ReportID string `json:"reportId"`
	}
	if err := o.upstream.Post(ctx, info.Code, reportsPath, body, &resp); err != nil {
		return "", err
	}
	if resp.ReportID == "" {
		return "", errors.New("create report response has no reportId")
	}
	return resp.ReportID, nil
}

// poll checks the job status up to PollAttempts times. On failure it returns
// the terminal outcome to record.
func (o *Orchestrator) poll(ctx context.Context, info model.RegionInfo, reportID string, logger *slog.Logger) (string, model.Outcome, error) {
	path := reportsPath + "/" + url.PathEscape(reportID)

	for attempt := 1; attempt <= o.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := o.cfg.Sleep(ctx, o.cfg.PollInterval); err != nil {
				return "", model.OutcomeError, fmt.Errorf("polling report %s: %w", reportID, err)
			}
		}

		var status reportSummary
		if err := o.upstream.Get(ctx, info.Code, path, nil, &status); err != nil {
			logger.Warn("report status check failed", "report_id", reportID, "attempt", attempt, "error", err)
			continue
		}

		switch strings.ToUpper(status.ProcessingStatus) {
		case statusDone:
			metrics.PollAttempts.WithLabelValues(string(info.Code)).Observe(float64(attempt))
			if status.ReportDocumentID == "" {
				return "", model.OutcomeJobFailed, fmt.Errorf("report %s done without a document", reportID)
			}
			return status.ReportDocumentID, "", nil
		case statusCancelled, statusFatal:
			metrics.PollAttempts.WithLabelValues(string(info.Code)).Observe(float64(attempt))
			return "", model.OutcomeJobFailed, fmt.Errorf("report %s ended with status %s", reportID, status.ProcessingStatus)
		}
		logger.Debug("report still processing", "report_id", reportID, "attempt", attempt, "status", status.ProcessingStatus)
	}

	metrics.PollAttempts.WithLabelValues(string(info.Code)).Observe(float64(o.cfg.PollAttempts))
	return "", model.OutcomeTimedOut, fmt.Errorf("report %s not done after %d attempts", reportID, o.cfg.PollAttempts)
}

func (o *Orchestrator) fetchDocument(ctx context.Context, info model.RegionInfo, docID string, logger *slog.Logger) (*model.PlanningCacheEntry, error) {
	var doc struct {
		URL                  string `json:"url"`
		CompressionAlgorithm string `json:"compressionAlgorithm"`
	}
	if err := o.upstream.Get(ctx, info.Code, documentsPath+"/"+url.PathEscape(docID), nil, &doc); err != nil {
		return nil, fmt.Errorf("get report document: %w", err)
	}
	if doc.URL == "" {
		return nil, fmt.Errorf("report document %s has no url", docID)
	}

	data, err := o.upstream.Download(ctx, doc.URL)
	if err != nil {
		return nil, err
	}
	text, err := report.DecodeDocument(data, doc.CompressionAlgorithm)
	if err != nil {
		return nil, err
	}

	parsed := report.Parse(text)
	logger.Info("planning report parsed",
		"document_id", docID, "rows", parsed.Rows, "records", len(parsed.Items), "dropped", parsed.Dropped)

	return &model.PlanningCacheEntry{
		FetchedAt:      o.store.Now(),
		Items:          parsed.Items,
		AgingRiskTotal: parsed.AgingRiskTotal,
	}, nil
}

// finish records the run and reports the outcome.
func (o *Orchestrator) finish(ctx context.Context, region model.Region, trigger model.Trigger, started time.Time, res RefreshResult) RefreshResult {
	metrics.RefreshOutcomes.WithLabelValues(string(region), string(res.Outcome)).Inc()

	logger := o.logger.With("region", region, "trigger", trigger, "outcome", res.Outcome)
	switch res.Outcome {
	case model.OutcomeRefreshed, model.OutcomeReused:
		logger.Info("planning cache refreshed", "report_id", res.ReportID, "records", res.Records, "aging_risk_total", res.AgingRiskTotal)
	case model.OutcomeError, model.OutcomeJobFailed, model.OutcomeTimedOut:
		logger.Warn("planning refresh failed", "report_id", res.ReportID, "error", res.Err)
	default:
		logger.Debug("planning refresh skipped")
	}

	if o.runs == nil {
		return res
	}
	run := &model.RefreshRun{
		ID:             uid.NewOrdered(),
		Region:         region,
		Trigger:        trigger,
		Outcome:        res.Outcome,
		ReportID:       res.ReportID,
		Records:        res.Records,
		AgingRiskTotal: res.AgingRiskTotal,
		StartedAt:      started,
		FinishedAt:     o.store.Now(),
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	// History is written even if the refresh context has expired.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.runs.Record(recordCtx, run); err != nil {
		logger.Warn("failed to record refresh run", "error", err)
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
