package miners

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

const tdFixture = `<html><body><table>
<tr>
<td>Acme Ltd
Jane Smith
jane@acme.com
Phone: +1 212 555 0100</td>
<td>short cell</td>
</tr>
</table></body></html>`

const cardFixture = `<html><body>
<div class="contact-card"><h3>Bob Jones</h3><p>Beta GmbH</p><p>bob@beta.io</p></div>
<div class="contact-card"><h3>Ann Lee</h3><p>Gamma LLC</p><p>ann@gamma.co</p></div>
</body></html>`

func TestDOMMinerTableCells(t *testing.T) {
	m := NewDOMMiner(nil, 0)
	input := &Input{URL: "https://expo.example.com/list", HTML: tdFixture, HTTPStatus: 200}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusSuccess, result.Status)
	assert.Equal(t, "td_scan", result.Meta.Method)
	assert.Equal(t, 1, result.Meta.Blocks)
	require.Len(t, result.Contacts, 1)
	c := result.Contacts[0]
	assert.Equal(t, "jane@acme.com", c.Email)
	assert.Equal(t, "Jane Smith", c.Name)
	assert.Equal(t, "Acme Ltd", c.Company)
	assert.Equal(t, "+1 212 555 0100", c.Phone)
	assert.Equal(t, []string{"dom"}, c.Sources)
	assert.Contains(t, c.Raw, "jane@acme.com")
}

func TestExtractBlocksCardStrategy(t *testing.T) {
	blocks, method := ExtractBlocks(cardFixture, 0)

	assert.Equal(t, "card_scan", method)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "bob@beta.io")
	assert.Contains(t, blocks[1], "ann@gamma.co")
	// Markup collapsed to tidy lines.
	assert.Equal(t, "Bob Jones\nBeta GmbH\nbob@beta.io", blocks[0])
}

func TestExtractBlocksGenericFallback(t *testing.T) {
	html := `<html><body><p>Write to our sales team at sales@acme.com for a quote today</p></body></html>`

	blocks, method := ExtractBlocks(html, 0)

	assert.Equal(t, "generic_scan", method)
	require.Len(t, blocks, 1)
}

func TestExtractBlocksDedupesAndCaps(t *testing.T) {
	dup := `<html><body>
<div class="contact-card"><p>Bob Jones, Beta GmbH, reach him at bob@beta.io</p></div>
<div class="contact-card"><p>Bob Jones, Beta GmbH, reach him at bob@beta.io</p></div>
</body></html>`
	blocks, _ := ExtractBlocks(dup, 0)
	assert.Len(t, blocks, 1)

	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&sb, `<div class="contact-card"><p>Person number %d of the team, write to person%d@acme.com</p></div>`, i, i)
	}
	sb.WriteString("</body></html>")
	blocks, _ = ExtractBlocks(sb.String(), 2)
	assert.Len(t, blocks, 2)
}

func TestDOMMinerBlockedStatus(t *testing.T) {
	m := NewDOMMiner(nil, 0)
	input := &Input{HTML: "<html><body>denied</body></html>", HTTPStatus: 403}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusBlocked, result.Status)
	assert.Equal(t, 403, result.Meta.HTTPStatus)
	assert.Empty(t, result.Contacts)
}

func TestDOMMinerNotRendered(t *testing.T) {
	m := NewDOMMiner(nil, 0)

	result, err := m.Mine(context.Background(), &Input{HTML: "   "})
	require.NoError(t, err)

	assert.Equal(t, models.MineStatusError, result.Status)
	assert.Equal(t, "page not rendered", result.Meta.Error)
}

func TestDOMMinerUsesPreSegmentedBlocks(t *testing.T) {
	m := NewDOMMiner(nil, 0)
	input := &Input{
		HTML:        "<html><body>already segmented upstream</body></html>",
		Blocks:      []string{"Jane Smith\njane@acme.com"},
		BlockMethod: "card_scan",
	}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "card_scan", result.Meta.Method)
	require.Len(t, result.Contacts, 1)
	assert.Equal(t, "Jane Smith", result.Contacts[0].Name)
	assert.Equal(t, "Jane Smith\njane@acme.com", result.Contacts[0].Raw)
}

func TestDOMMinerDedupesAcrossBlocks(t *testing.T) {
	m := NewDOMMiner(nil, 0)
	input := &Input{
		HTML:   "<html></html>",
		Blocks: []string{"jane@acme.com at the booth", "second mention of jane@acme.com"},
	}

	result, err := m.Mine(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, result.Contacts, 1)
	assert.Equal(t, []string{"jane@acme.com"}, result.Emails)
}

func TestExtractProfileLinks(t *testing.T) {
	html := `<html><body>
<a href="/members/jane">Jane</a>
<a href="/members/jane#top">Jane again</a>
<a href="https://other.example.com/members/bob">Bob</a>
<a href="/about">About</a>
<a href="mailto:x@y.z">mail</a>
<a href="/exhibitors/acme?id=7">Acme</a>
</body></html>`

	links := ExtractProfileLinks(html, "https://expo.example.com/list", 10)

	assert.Equal(t, []string{
		"https://expo.example.com/members/jane",
		"https://expo.example.com/exhibitors/acme?id=7",
	}, links)
}

func TestExtractProfileLinksCap(t *testing.T) {
	html := `<html><body>
<a href="/members/a">a</a>
<a href="/members/b">b</a>
<a href="/members/c">c</a>
</body></html>`

	links := ExtractProfileLinks(html, "https://expo.example.com/", 2)

	assert.Len(t, links, 2)
}
