package miners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func TestStructuredMinerLabelledBlock(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Company: Acme Ltd\nName: Jane Smith\nEmail: jane@acme.com\nPhone: +1 212 555 0100"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusSuccess, result.Status)
	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "jane@acme.com", c.Email)
	assert.Equal(t, "Jane Smith", c.Name)
	assert.Equal(t, "Acme Ltd", c.Company)
	assert.Equal(t, "+1 212 555 0100", c.Phone)
	assert.Equal(t, []string{"structured"}, c.Sources)
	assert.Equal(t, []string{"jane@acme.com"}, result.Emails)
}

func TestStructuredMinerCompanyRetrigger(t *testing.T) {
	m := NewStructuredMiner(nil)
	// Two Turkish contacts in one block, no blank line between them. The
	// second company label must start a new contact.
	input := &Input{Text: "Firma: Elan Expo\nİsim: Suer AY\nEmail: suer@elanexpo.net\nFirma: ABC A.Ş.\nİsim: Ali Veli\nEmail: ali@abc.com.tr"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 2)
	assert.Equal(t, "Elan Expo", result.Contacts[0].Company)
	assert.Equal(t, "Suer AY", result.Contacts[0].Name)
	assert.Equal(t, "suer@elanexpo.net", result.Contacts[0].Email)
	assert.Equal(t, "ABC A.Ş.", result.Contacts[1].Company)
	assert.Equal(t, "Ali Veli", result.Contacts[1].Name)
	assert.Equal(t, "ali@abc.com.tr", result.Contacts[1].Email)
}

func TestStructuredMinerTrailingCompanyFoldsBack(t *testing.T) {
	m := NewStructuredMiner(nil)
	// Signature order puts the company after the email. The fragment the
	// company label splits off never gains its own email, so its fields
	// belong to the contact above it.
	input := &Input{Text: "Name: Jane Doe\nEmail: jane.doe@acme.com\nCompany: Acme GmbH\nPhone: +49 30 123456789"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "jane.doe@acme.com", c.Email)
	assert.Equal(t, "Jane Doe", c.Name)
	assert.Equal(t, "Acme GmbH", c.Company)
	assert.Equal(t, "+49 30 123456789", c.Phone)
}

func TestStructuredMinerBlankLinesDoNotSplit(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Name: Jane Smith\n\n\nEmail: jane@acme.com"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "Jane Smith", result.Contacts[0].Name)
	assert.Equal(t, "jane@acme.com", result.Contacts[0].Email)
}

func TestStructuredMinerMidLineLabels(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Company: Acme Ltd Name: Jane Smith Email: jane@acme.com"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "Acme Ltd", c.Company)
	assert.Equal(t, "Jane Smith", c.Name)
	assert.Equal(t, "jane@acme.com", c.Email)
}

func TestStructuredMinerRepairsBrokenLabels(t *testing.T) {
	m := NewStructuredMiner(nil)
	// OCR output broke the Email label across a line.
	input := &Input{Text: "Company: Acme Ltd\nEma\nil: jane@acme.com"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "Acme Ltd", result.Contacts[0].Company)
	assert.Equal(t, "jane@acme.com", result.Contacts[0].Email)
}

func TestStructuredMinerKeepsFirstValue(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Name: Jane Smith\nName: Somebody Else\nEmail: jane@acme.com"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "Jane Smith", result.Contacts[0].Name)
}

func TestStructuredMinerEmailValueWinsOverLabel(t *testing.T) {
	m := NewStructuredMiner(nil)
	// The value is an email even though the label says phone.
	input := &Input{Text: "Phone: jane@acme.com"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "jane@acme.com", result.Contacts[0].Email)
	assert.Empty(t, result.Contacts[0].Phone)
}

func TestStructuredMinerNoEmailNoContact(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Company: Acme Ltd\nName: Jane Smith"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusPartial, result.Status)
	assert.Empty(t, result.Contacts)
}

func TestStructuredMinerHarvestsBareEmails(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "reach us at info@acme.com or sales@acme.com\nlater info@acme.com again"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusPartial, result.Status)
	assert.Empty(t, result.Contacts)
	assert.Equal(t, []string{"info@acme.com", "sales@acme.com"}, result.Emails)
}

func TestStructuredMinerDashSeparator(t *testing.T) {
	m := NewStructuredMiner(nil)
	input := &Input{Text: "Email - jane@acme.com\nCountry - Turkey"}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "jane@acme.com", result.Contacts[0].Email)
	assert.Equal(t, "Turkey", result.Contacts[0].Country)
}
