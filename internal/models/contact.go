package models

import (
	"encoding/json"
	"strings"
)

// Candidate is the transient contact record flowing through the mining
// pipeline. A candidate lives only within one job: miners emit candidates,
// the validator cleans them, the deduplicator and merger consolidate them,
// and aggregation promotes the survivors into persons and affiliations.
type Candidate struct {
	Email   string `json:"email"` // Required; lowercased by the validator
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
	// Raw preserves the text (line, cell row, DOM block) the candidate was
	// mined from, for audit and re-processing.
	Raw string `json:"raw,omitempty"`
	// Sources lists the miner identifiers that contributed to this record.
	Sources []string `json:"sources,omitempty"`
	// Issues collects validator notes ("phone removed: invalid"). Informational only.
	Issues []string `json:"issues,omitempty"`
}

// HasEmail reports whether the candidate carries a non-empty email.
func (c *Candidate) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}

// IsEmpty reports whether the candidate carries no field values at all.
func (c *Candidate) IsEmpty() bool {
	return c.Email == "" && c.Name == "" && c.Company == "" && c.Title == "" &&
		c.Phone == "" && c.Website == "" && c.Country == "" && c.City == "" && c.Address == ""
}

// Get returns the value of a canonical field.
func (c *Candidate) Get(f Field) string {
	switch f {
	case FieldEmail:
		return c.Email
	case FieldName:
		return c.Name
	case FieldCompany:
		return c.Company
	case FieldTitle:
		return c.Title
	case FieldPhone:
		return c.Phone
	case FieldWebsite:
		return c.Website
	case FieldCountry:
		return c.Country
	case FieldCity:
		return c.City
	case FieldAddress:
		return c.Address
	}
	return ""
}

// Set assigns the value of a canonical field. Unknown fields are ignored.
func (c *Candidate) Set(f Field, value string) {
	switch f {
	case FieldEmail:
		c.Email = value
	case FieldName:
		c.Name = value
	case FieldCompany:
		c.Company = value
	case FieldTitle:
		c.Title = value
	case FieldPhone:
		c.Phone = value
	case FieldWebsite:
		c.Website = value
	case FieldCountry:
		c.Country = value
	case FieldCity:
		c.City = value
	case FieldAddress:
		c.Address = value
	}
}

// AddSource records a contributing miner identifier, deduplicated.
func (c *Candidate) AddSource(source string) {
	for _, s := range c.Sources {
		if s == source {
			return
		}
	}
	c.Sources = append(c.Sources, source)
}

// Clone returns a deep copy of the candidate.
func (c *Candidate) Clone() *Candidate {
	clone := *c
	if len(c.Sources) > 0 {
		clone.Sources = append([]string(nil), c.Sources...)
	}
	if len(c.Issues) > 0 {
		clone.Issues = append([]string(nil), c.Issues...)
	}
	return &clone
}

// ToJSON serializes the candidate for result-row provenance storage.
func (c *Candidate) ToJSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
