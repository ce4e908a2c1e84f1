package pipeline

import "regexp"

var (
	// emailRe matches one structurally valid email anywhere in text.
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// emailExactRe matches a whole string that is exactly one email.
	emailExactRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// phoneShapeRe is the structural gate for a cleaned phone value.
	phoneShapeRe = regexp.MustCompile(`^[\d\s+\-().]{8,20}$`)

	// phoneFinders locate phone-looking runs in free text, tried in order.
	phoneFinders = []*regexp.Regexp{
		regexp.MustCompile(`\+\d[\d\s\-().]{6,18}\d`),
		regexp.MustCompile(`\(\d{2,4}\)[\s\-.]?\d[\d\s\-.]{5,14}`),
		regexp.MustCompile(`\b\d{2,4}[\s\-.]\d{2,4}[\s\-.]\d[\d\s\-.]{1,10}\d\b`),
		regexp.MustCompile(`\b\d{8,15}\b`),
	}

	// urlRe locates an explicit URL in free text.
	urlRe = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"')]+`)

	// dialCodeRe locates an international dial prefix.
	dialCodeRe = regexp.MustCompile(`\+\d{1,3}\b`)

	// zeroWidthRe strips zero-width and bidi control characters that PDF
	// extractors and rich-text editors leave behind.
	zeroWidthRe = regexp.MustCompile("[\u200B\u200C\u200D\u2060\uFEFF\u200E\u200F\u202A-\u202E\u2066-\u2069]")

	// markdownLinkRe rewrites [text](url) and [text]{attrs} to their text.
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\](?:\([^)]*\)|\{[^}]*\})`)

	// markdownMarksRe strips emphasis and code markers.
	markdownMarksRe = regexp.MustCompile("[*_`]{1,3}")

	// htmlTagRe strips anything tag-shaped.
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)

	// spaceRunRe collapses horizontal whitespace runs.
	spaceRunRe = regexp.MustCompile(`[ \t\x{00A0}]+`)

	// allWhitespaceRe collapses any whitespace run, newlines included.
	allWhitespaceRe = regexp.MustCompile(`\s+`)
)

// ExtractEmail returns the first email found in text, or "".
func ExtractEmail(text string) string {
	return emailRe.FindString(text)
}

// ExtractEmails returns every email found in text, in order of appearance.
func ExtractEmails(text string) []string {
	return emailRe.FindAllString(text, -1)
}

// IsEmail reports whether the whole string is one structurally valid email.
func IsEmail(s string) bool {
	return emailExactRe.MatchString(s)
}

// FindPhone returns the first phone-looking run in text, or "".
func FindPhone(text string) string {
	for _, re := range phoneFinders {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// FindURL returns the first explicit URL in text, or "".
func FindURL(text string) string {
	return urlRe.FindString(text)
}
