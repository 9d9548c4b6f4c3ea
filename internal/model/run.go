package model

import "time"

// Outcome is the terminal state of one planning refresh attempt.
type Outcome string

const (
	OutcomeCached      Outcome = "cached"
	OutcomeInProgress  Outcome = "in_progress"
	OutcomeCoolingDown Outcome = "cooling_down"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeReused      Outcome = "reused"
	OutcomeJobFailed   Outcome = "job_failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeError       Outcome = "error"
)

// Trigger records what started a refresh.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RefreshRun is one recorded orchestrator run.
type RefreshRun struct {
	ID             string    `json:"id"`
	Region         Region    `json:"region"`
	Trigger        Trigger   `json:"trigger"`
	Outcome        Outcome   `json:"outcome"`
	ReportID       string    `json:"report_id,omitempty"`
	Records        int       `json:"records"`
	AgingRiskTotal float64   `json:"aging_risk_total"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RegionStatus is the per-region view returned by the status query.
type RegionStatus struct {
	Region             Region      `json:"region"`
	HasPlanningCache   bool        `json:"has_planning_cache"`
	PlanningFresh      bool        `json:"planning_fresh"`
	PlanningFetchedAt  *time.Time  `json:"planning_fetched_at,omitempty"`
	PlanningAgeSeconds *int64      `json:"planning_age_seconds,omitempty"`
	PlanningItems      int         `json:"planning_items"`
	CooldownUntil      *time.Time  `json:"cooldown_until,omitempty"`
	Refreshing         bool        `json:"refreshing"`
	LastRun            *RefreshRun `json:"last_run,omitempty"`
}
