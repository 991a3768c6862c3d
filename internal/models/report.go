package models

import "time"

// TierProgress is the per-tier line of a run report.
type TierProgress struct {
	Name      string `json:"name"`
	Collected int    `json:"collected"`
	Target    int    `json:"target"`
}

// RunReport summarises a single collection run.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Date           time.Time      `json:"date"`
	Outcome        string         `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Searches       int            `json:"searches"`
	DetailsFetched int            `json:"details_fetched"`
	Recorded       int            `json:"recorded"`
	Duplicates     int            `json:"duplicates"`
	Rejected       int            `json:"rejected"`
	QuotaUsed      int            `json:"quota_used"`
	QuotaLimit     int            `json:"quota_limit"`
	TotalRecords   int            `json:"total_records"`
	Tiers          []TierProgress `json:"tiers"`
	ExportPath     string         `json:"export_path"`
}
