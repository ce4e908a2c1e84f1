package miners

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func TestUnstructuredMinerContextWindow(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "Acme Ltd\nJane Smith\nContact: jane@acme.com\n+1 212 555 0100\nNew York, USA"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusSuccess, result.Status)
	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "jane@acme.com", c.Email)
	assert.Equal(t, "Jane Smith", c.Name)
	assert.Equal(t, "Acme Ltd", c.Company)
	assert.Equal(t, "+1 212 555 0100", c.Phone)
	assert.Equal(t, "USA", c.Country)
	assert.Equal(t, "https://www.acme.com", c.Website)
	assert.Equal(t, []string{"unstructured"}, c.Sources)
	assert.Contains(t, c.Raw, "Jane Smith")
}

func TestUnstructuredMinerDedupesEmails(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "jane@acme.com\nsome text\nJANE@ACME.COM again"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, []string{"jane@acme.com"}, result.Emails)
}

func TestUnstructuredMinerCompanyFromDomain(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "For tickets write alex@elanexpo.net today"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "Elanexpo", c.Company)
	assert.Equal(t, "https://www.elanexpo.net", c.Website)
}

func TestUnstructuredMinerGenericProviderNoFallbacks(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "ping sam@gmail.com when ready"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Empty(t, c.Company)
	assert.Empty(t, c.Website)
}

func TestUnstructuredMinerSkipsLabelNoiseAboveEmail(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "Acme GmbH\nEmail:\njane@acme.de"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "Acme GmbH", c.Company)
	assert.Empty(t, c.Name)
}

func TestUnstructuredMinerAllCapsHeadingIsCompany(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "ELAN EXPO\nSuer AY\nsuer@elanexpo.net"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "ELAN EXPO", c.Company)
	assert.Equal(t, "Suer AY", c.Name)
}

func TestUnstructuredMinerExplicitWebsiteBeatsDomain(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	input := &Input{Text: "Visit https://www.elanexpo.com/en for details\ninfo@elanexpo.net"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "https://www.elanexpo.com/en", result.Contacts[0].Website)
}

func TestUnstructuredMinerWindowBounds(t *testing.T) {
	m := NewUnstructuredMiner(nil)
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "filler line without anything")
	}
	lines[10] = "jane@acme.com"
	lines[1] = "+1 212 555 0100" // 9 lines above the email, outside the window

	result, err := m.Mine(context.Background(), &Input{Text: strings.Join(lines, "\n")})
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Empty(t, result.Contacts[0].Phone)
	// Window spans 8 above to 4 below.
	assert.Len(t, strings.Split(result.Contacts[0].Raw, "\n"), 13)
}
