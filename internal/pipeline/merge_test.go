package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func TestMergeConflictResolution(t *testing.T) {
	m := NewMerger(testPriority)

	a := &models.MinerResult{
		Status: models.MineStatusSuccess,
		Meta:   models.MinerMeta{Source: "structured"},
		Contacts: []*models.Candidate{
			{Email: "jane@acme.com", Company: "ACME", Sources: []string{"structured"}},
		},
	}
	b := &models.MinerResult{
		Status: models.MineStatusSuccess,
		Meta:   models.MinerMeta{Source: "dom"},
		Contacts: []*models.Candidate{
			{Email: "jane@acme.com", Company: "Acme Ltd", Sources: []string{"dom"}},
		},
	}

	merged := m.Merge([]*models.MinerResult{a, b})
	require.Len(t, merged.Contacts, 1)
	assert.Equal(t, "Acme Ltd", merged.Contacts[0].Company,
		"legal-entity suffix must outscore the all-caps variant")
	assert.ElementsMatch(t, []string{"structured", "dom"}, merged.Contacts[0].Sources)
	assert.Equal(t, models.MergeStatusSuccess, merged.Status)
	assert.Equal(t, 2, merged.MinersRun)
}

// The output email multiset must not depend on bundle order.
func TestMergeCommutative(t *testing.T) {
	m := NewMerger(testPriority)

	a := &models.MinerResult{
		Status: models.MineStatusSuccess,
		Meta:   models.MinerMeta{Source: "structured"},
		Contacts: []*models.Candidate{
			{Email: "jane@acme.com", Company: "ACME"},
			{Email: "bob@firm.io", Name: "Bob Stone"},
		},
	}
	b := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: "unstructured"},
		Emails: []string{"carol@shop.de"},
		Contacts: []*models.Candidate{
			{Email: "jane@acme.com", Company: "Acme Ltd"},
		},
	}

	forward := m.Merge([]*models.MinerResult{a, b})
	backward := m.Merge([]*models.MinerResult{b, a})

	assert.ElementsMatch(t, forward.Emails, backward.Emails)
	require.Len(t, forward.Emails, 3)

	companyOf := func(r *models.MergedResult) string {
		for _, c := range r.Contacts {
			if c.Email == "jane@acme.com" {
				return c.Company
			}
		}
		return ""
	}
	// Scoring, not arrival order, picks the winner.
	assert.Equal(t, "Acme Ltd", companyOf(forward))
	assert.Equal(t, "Acme Ltd", companyOf(backward))
}

func TestMergeBareEmailsBecomeContacts(t *testing.T) {
	m := NewMerger(testPriority)

	merged := m.Merge([]*models.MinerResult{
		{
			Status: models.MineStatusPartial,
			Meta:   models.MinerMeta{Source: "unstructured"},
			Emails: []string{"lone@firm.net", "Lone@Firm.net", "junk@example.com"},
		},
	})

	require.Len(t, merged.Contacts, 1, "duplicate and blacklisted bare emails collapse")
	assert.Equal(t, "lone@firm.net", merged.Contacts[0].Email)
	assert.Equal(t, models.MergeStatusSuccess, merged.Status)
	assert.Zero(t, merged.EnrichmentRate)
}

func TestMergeBlockedPropagation(t *testing.T) {
	m := NewMerger(testPriority)

	merged := m.Merge([]*models.MinerResult{
		{Status: models.MineStatusBlocked, Meta: models.MinerMeta{Source: "dom", HTTPStatus: 403}},
		{
			Status: models.MineStatusSuccess,
			Meta:   models.MinerMeta{Source: "structured"},
			Contacts: []*models.Candidate{
				{Email: "jane@acme.com", Company: "Acme Ltd"},
			},
		},
	})

	assert.True(t, merged.WasBlocked)
	assert.Equal(t, 1, merged.MinersFailed)
	assert.Equal(t, models.MergeStatusSuccess, merged.Status)
	assert.InDelta(t, 1.0, merged.EnrichmentRate, 0.001)
}

func TestMergeEmptyInputsArePartial(t *testing.T) {
	m := NewMerger(testPriority)

	merged := m.Merge([]*models.MinerResult{
		{Status: models.MineStatusError, Meta: models.MinerMeta{Source: "dom", Error: "timeout"}},
	})

	assert.Equal(t, models.MergeStatusPartial, merged.Status)
	assert.Empty(t, merged.Contacts)
	assert.Equal(t, 1, merged.MinersFailed)
}

func TestMergePhonesDedupedAndCapped(t *testing.T) {
	m := NewMerger(testPriority)

	bundle := func(source, phone string) *models.MinerResult {
		return &models.MinerResult{
			Status: models.MineStatusSuccess,
			Meta:   models.MinerMeta{Source: source},
			Contacts: []*models.Candidate{
				{Email: "jane@acme.com", Phone: phone},
			},
		}
	}

	merged := m.Merge([]*models.MinerResult{
		bundle("structured", "+1 212 555 0100"),
		bundle("tabular", "+1 (212) 555-0100"), // same digits, must collapse
		bundle("unstructured", "+90 212 444 0000"),
		bundle("dom", "+44 20 7946 0958"),
		bundle("ai", "0216 555 11 22"),
	})

	require.Len(t, merged.Contacts, 1)
	phones := strings.Split(merged.Contacts[0].Phone, ", ")
	assert.Len(t, phones, 3, "phones are capped at three")
	assert.Contains(t, phones, "+1 212 555 0100")
	assert.NotContains(t, phones, "+1 (212) 555-0100")
}
