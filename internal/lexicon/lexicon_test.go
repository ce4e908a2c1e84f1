package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func TestFieldFor(t *testing.T) {
	lx := Default()

	tests := []struct {
		name  string
		label string
		field models.Field
		found bool
	}{
		{"english company", "Company", models.FieldCompany, true},
		{"turkish company", "Şirket", models.FieldCompany, true},
		{"turkish company uppercase", "ŞİRKET", models.FieldCompany, true},
		{"turkish name dotted capital", "İsim", models.FieldName, true},
		{"turkish firma", "Firma", models.FieldCompany, true},
		{"german email", "E-Mail-Adresse", models.FieldEmail, true},
		{"french phone", "Téléphone", models.FieldPhone, true},
		{"japanese company", "会社", models.FieldCompany, true},
		{"chinese email", "电子邮件", models.FieldEmail, true},
		{"russian email", "Электронная почта", models.FieldEmail, true},
		{"arabic name", "الاسم", models.FieldName, true},
		{"polish title", "Stanowisko", models.FieldTitle, true},
		{"label embedded in longer text", "Your Company", models.FieldCompany, true},
		{"whitespace tolerated", "  phone  ", models.FieldPhone, true},
		{"unknown label", "favourite colour", "", false},
		{"empty label", "", "", false},
		{"whitespace only", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, found := lx.FieldFor(tt.label)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestFieldForDeclarationOrder(t *testing.T) {
	lx := Default()

	// "Company Name" contains surfaces for both company and name.
	// Company is declared first, so it must win.
	field, found := lx.FieldFor("Company Name")
	require.True(t, found)
	assert.Equal(t, models.FieldCompany, field)

	// "Contact Email" matches name ("contact") before email.
	field, found = lx.FieldFor("Contact Email")
	require.True(t, found)
	assert.Equal(t, models.FieldName, field)
}

func TestWithOverlay(t *testing.T) {
	base := Default()

	_, found := base.FieldFor("ragione sociale")
	require.False(t, found, "overlay surface should not resolve before overlay is applied")

	lx := base.WithOverlay(map[models.Field][]string{
		models.FieldCompany: {"Ragione Sociale"},
		models.FieldName:    {"email"}, // collides with a built-in, must be dropped
	})

	field, found := lx.FieldFor("Ragione Sociale")
	require.True(t, found)
	assert.Equal(t, models.FieldCompany, field)

	// The built-in binding survives the shadow attempt.
	field, found = lx.FieldFor("Email")
	require.True(t, found)
	assert.Equal(t, models.FieldEmail, field)

	// The base lexicon is untouched.
	_, found = base.FieldFor("ragione sociale")
	assert.False(t, found)
}

func TestPatternsAnchorAtLineStart(t *testing.T) {
	lx := Default()

	patterns := lx.Patterns()
	var firma *LabelPattern
	for i := range patterns {
		if patterns[i].Surface == "firma" {
			firma = &patterns[i]
			break
		}
	}
	require.NotNil(t, firma, "expected a pattern for the firma surface")
	assert.Equal(t, models.FieldCompany, firma.Field)

	tests := []struct {
		name    string
		text    string
		matches bool
	}{
		{"line start with colon", "Firma: Elan Expo", true},
		{"leading whitespace and dash", "  FIRMA - Elan Expo", true},
		{"second line", "Contact details\nFirma: Elan Expo", true},
		{"mid-line is not a label", "la firma: Elan Expo", false},
		{"no separator", "Firma Elan Expo", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, firma.Re.MatchString(tt.text))
		})
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "isim", Fold("İSİM"))
	assert.Equal(t, "şirket", Fold("ŞİRKET"))
	assert.Equal(t, "email", Fold("  EMAIL  "))
}

func TestLabelsCoverEveryField(t *testing.T) {
	lx := Default()

	byField := make(map[models.Field]int)
	for _, entry := range lx.Labels() {
		byField[entry.Field]++
	}
	for _, field := range models.FieldOrder {
		assert.Greater(t, byField[field], 0, "field %s has no labels", field)
	}
}
