package respond

import "time"

type ReconcileRespond struct {
	Resynced        int   `json:"resynced"`
	ResyncFailed    int   `json:"resync_failed"`
	ResyncStale     int   `json:"resync_stale"`
	OrphansCleaned  int   `json:"orphans_cleaned"`
	OrphansRetrying int   `json:"orphans_retrying"`
	Skipped         bool  `json:"skipped"` // 已有对账任务在运行
	DurationMs      int64 `json:"duration_ms"`
}

type HealthRespond struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}
