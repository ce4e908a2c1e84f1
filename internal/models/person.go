package models

import (
	"strings"
	"time"
)

// VerificationStatus is the mailbox verification state of a person.
type VerificationStatus string

const (
	VerificationUnknown  VerificationStatus = "unknown"
	VerificationRisky    VerificationStatus = "risky"
	VerificationCatchall VerificationStatus = "catchall"
	VerificationInvalid  VerificationStatus = "invalid"
	VerificationValid    VerificationStatus = "valid"
)

// Rank orders statuses by information value. Aggregation never moves a
// person to a lower rank; only the verification worker may overwrite a
// concrete status with fresh provider knowledge.
func (s VerificationStatus) Rank() int {
	switch s {
	case VerificationRisky:
		return 1
	case VerificationCatchall:
		return 2
	case VerificationInvalid:
		return 3
	case VerificationValid:
		return 4
	default:
		return 0 // unknown or empty
	}
}

// MergeStatus returns the status aggregation should keep when incoming
// meets current: the higher rank wins, current wins ties.
func (s VerificationStatus) MergeStatus(incoming VerificationStatus) VerificationStatus {
	if incoming.Rank() > s.Rank() {
		return incoming
	}
	if s == "" {
		return VerificationUnknown
	}
	return s
}

// ParseVerificationStatus normalizes a provider status string. Anything
// unrecognized maps to unknown.
func ParseVerificationStatus(s string) VerificationStatus {
	switch VerificationStatus(s) {
	case VerificationValid, VerificationInvalid, VerificationCatchall, VerificationRisky, VerificationUnknown:
		return VerificationStatus(s)
	default:
		return VerificationUnknown
	}
}

// Person is the canonical, long-lived identity record. Unique per
// (tenant, lower(email)); the email is write-once, names are enrich-only,
// and verification status never silently degrades.
type Person struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id" badgerhold:"index"`
	Email     string `json:"email" badgerhold:"index"` // Stored lowercased
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedAt         time.Time          `json:"verified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Affiliation records a person's relationship to one company, current or
// historical. Unique per (tenant, person, lower(company_name)); rows are
// insert-or-ignore and never overwritten, so history is additive.
type Affiliation struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id" badgerhold:"index"`
	PersonID    string `json:"person_id" badgerhold:"index"`
	CompanyName string `json:"company_name"` // Write guard: never contains '@' or '|'
	Title       string `json:"title,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Website     string `json:"website,omitempty"`
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`
	Address     string `json:"address,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ImportStats summarizes one transactional promotion of result rows into
// the canonical store.
type ImportStats struct {
	Rows         int `json:"rows"`         // Result rows settled (marked imported)
	NewPersons   int `json:"new_persons"`  // Persons created rather than enriched
	Affiliations int `json:"affiliations"` // Affiliations inserted
	Skipped      int `json:"skipped"`      // Rows or companies rejected by write guards

	// Persons lists every canonical person the batch touched, unique by ID,
	// in row order.
	Persons []*Person `json:"persons,omitempty"`
}

// SplitName splits a display name preserving multi-word surnames: the last
// token is the surname, everything before it is the given name. A single
// token sets the given name only.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
	}
}
