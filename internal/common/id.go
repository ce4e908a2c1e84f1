package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique mining job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewResultID generates a unique result row ID with the "res_" prefix
func NewResultID() string {
	return "res_" + uuid.New().String()
}

// NewPersonID generates a unique person ID with the "per_" prefix
func NewPersonID() string {
	return "per_" + uuid.New().String()
}

// NewAffiliationID generates a unique affiliation ID with the "aff_" prefix
func NewAffiliationID() string {
	return "aff_" + uuid.New().String()
}

// NewTaskID generates a unique verification task ID with the "ver_" prefix
func NewTaskID() string {
	return "ver_" + uuid.New().String()
}
