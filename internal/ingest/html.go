package ingest

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// HTMLToText converts page HTML to markdown text. baseURL resolves relative
// links so mailto/profile hrefs stay usable downstream.
func HTMLToText(html, baseURL string) (string, error) {
	if html == "" {
		return "", nil
	}
	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("html to markdown conversion failed: %w", err)
	}
	if strings.TrimSpace(converted) == "" {
		return stripTags(html), nil
	}
	return converted, nil
}

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	spacesRe = regexp.MustCompile(`[ \t]+`)
)

// stripTags is the fallback reduction when conversion fails: drop tags,
// decode the common entities, collapse runs of spaces.
func stripTags(html string) string {
	for _, tag := range []string{"</p>", "</div>", "</li>", "</tr>", "<br>", "<br/>", "<br />"} {
		html = strings.ReplaceAll(html, tag, tag+"\n")
	}
	stripped := tagRe.ReplaceAllString(html, "")
	stripped = spacesRe.ReplaceAllString(stripped, " ")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(stripped))
}
