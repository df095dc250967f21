package models

import "time"

// QuotaSnapshot is the last confirmed truth about the provider's published
// usage and limits. It is only ever advanced from a completed upstream
// response, never inferred backward from a request that did not finish.
type QuotaSnapshot struct {
	UsageShort int64     `json:"usage_short"`
	LimitShort int64     `json:"limit_short"`
	UsageDaily int64     `json:"usage_daily"`
	LimitDaily int64     `json:"limit_daily"`
	ObservedAt time.Time `json:"observed_at"`
}

// Utilization returns the worse of the two window ratios, 0 when no snapshot
// has been observed yet.
func (q *QuotaSnapshot) Utilization() float64 {
	short, daily := 0.0, 0.0
	if q.LimitShort > 0 {
		short = float64(q.UsageShort) / float64(q.LimitShort)
	}
	if q.LimitDaily > 0 {
		daily = float64(q.UsageDaily) / float64(q.LimitDaily)
	}
	if short > daily {
		return short
	}
	return daily
}

// AdmissionResult is the outcome of a sliding-window admission check.
type AdmissionResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// UpstreamReport is what the excluded presentation layer hands back after
// every completed upstream call so the quota snapshot can advance.
type UpstreamReport struct {
	Status  int
	Headers map[string]string
}
