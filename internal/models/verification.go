package models

import "time"

// TaskStatus is the lifecycle state of a verification task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// InFlight reports whether the task occupies the unique in-flight slot for
// its (tenant, email) pair.
func (s TaskStatus) InFlight() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

// VerificationTask is one durable unit of mailbox-verification work. At most
// one task per (tenant, lower(email)) may be pending or processing at a time;
// completed and failed tasks are kept as history.
type VerificationTask struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenant_id" badgerhold:"index"`
	Email    string     `json:"email" badgerhold:"index"` // Stored lowercased
	PersonID string     `json:"person_id"`
	Status   TaskStatus `json:"status" badgerhold:"index"`

	// Result mirrors the provider response once the task completes.
	Result VerificationStatus `json:"result,omitempty"`
	// Raw preserves the provider's response body for audit.
	Raw   string `json:"raw,omitempty"`
	Error string `json:"error,omitempty"`

	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at,omitempty"`   // Set when flipped to processing
	ProcessedAt time.Time `json:"processed_at,omitempty"` // Set when the provider call returns
}
