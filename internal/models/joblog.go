package models

import "time"

// JobLogEntry is one append-only log line in a job's log stream. Milestones
// (miner_started, miner_finished, merged, persisted) and miner failures are
// recorded here; the stream is the user-visible execution trace.
type JobLogEntry struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id" badgerhold:"index"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // debug, info, warn, error
	Stage     string    `json:"stage"` // miner_started, miner_finished, merged, persisted, ...
	Message   string    `json:"message"`
}
