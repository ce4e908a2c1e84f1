package pipeline

import (
	"errors"
	"strings"
	"unicode"

	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
)

var (
	// ErrEmailMissing means no email pattern was found in the value.
	ErrEmailMissing = errors.New("no email found")
	// ErrEmailBlacklisted means the email matched a blacklist substring.
	ErrEmailBlacklisted = errors.New("email blacklisted")
)

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

// StripArtifacts removes the junk every raw input carries into the
// pipeline: zero-width and bidi controls, markdown link and emphasis
// syntax, HTML tags and the common entities. Line structure is preserved
// for the miners; use NormalizeSpace afterwards for single values.
func StripArtifacts(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = zeroWidthRe.ReplaceAllString(text, "")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = htmlEntities.Replace(text)
	text = markdownMarksRe.ReplaceAllString(text, "")
	return text
}

// NormalizeSpace collapses all whitespace runs to single spaces and trims.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(allWhitespaceRe.ReplaceAllString(s, " "))
}

// CleanValue is the common preamble for single field values.
func CleanValue(s string) string {
	return NormalizeSpace(StripArtifacts(s))
}

// StripLabel removes a leading field label ("Tel: +90 ...", "Name - Jane")
// when the prefix before the first ":" or "-" resolves in the lexicon.
func StripLabel(s string, lx *lexicon.Lexicon) string {
	for _, sep := range []string{":", "-"} {
		idx := strings.Index(s, sep)
		if idx < 1 || idx > 50 {
			continue
		}
		prefix := strings.TrimSpace(s[:idx])
		if len(prefix) < 2 {
			continue
		}
		if _, ok := lx.FieldFor(prefix); ok {
			return strings.TrimSpace(s[idx+len(sep):])
		}
		// Only the first candidate separator is considered.
		break
	}
	return s
}

// CleanEmail extracts, lowers and gates the first email in the value.
func CleanEmail(raw string) (string, error) {
	email := ExtractEmail(CleanValue(raw))
	if email == "" {
		// The mail display form "Jane <jane@acme.com>" is tag-shaped, so
		// tag stripping eats it whole; retry with the tags intact.
		email = ExtractEmail(raw)
	}
	if email == "" {
		return "", ErrEmailMissing
	}
	email = strings.ToLower(strings.TrimRight(email, ",;:."))
	if len(email) > 254 || !IsEmail(email) {
		return "", ErrEmailMissing
	}
	if IsBlacklistedEmail(email) {
		return "", ErrEmailBlacklisted
	}
	return email, nil
}

// CleanPhone validates a phone value: after label stripping, the raw form
// must be digits plus separators and carry 8 to 15 digits.
func CleanPhone(raw string, lx *lexicon.Lexicon) (string, bool) {
	value := StripLabel(CleanValue(raw), lx)
	value = strings.Trim(value, " .,;:")
	if value == "" || !phoneShapeRe.MatchString(value) {
		return "", false
	}
	digits := digitCount(value)
	if digits < 8 || digits > 15 {
		return "", false
	}
	return value, true
}

// CleanWebsite normalizes a website value to an absolute URL. Document
// links and social-media hosts are rejected; a missing scheme is repaired
// with https:// and a www. prefix.
func CleanWebsite(raw string, lx *lexicon.Lexicon) (string, bool) {
	value := StripLabel(CleanValue(raw), lx)
	if m := FindURL(value); m != "" {
		value = m
	}
	value = strings.Trim(value, " <>\"'.,;")
	if value == "" || strings.Contains(value, "@") || strings.Contains(value, " ") {
		return "", false
	}
	if HasDocSuffix(value) {
		return "", false
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		if strings.HasPrefix(value, "www.") {
			value = "https://" + value
		} else {
			value = "https://www." + value
		}
	}
	host := hostOf(value)
	if host == "" || !strings.Contains(host, ".") || IsSocialHost(host) {
		return "", false
	}
	return strings.TrimRight(value, "/"), true
}

// CleanName validates a person name: extended-Latin letters plus
// whitespace, dots, hyphens and apostrophes, 2 to 100 runes. A fully
// upper or fully lower value is title-cased.
func CleanName(raw string, lx *lexicon.Lexicon) (string, bool) {
	value := StripLabel(CleanValue(raw), lx)
	n := len([]rune(value))
	if n < 2 || n > 100 {
		return "", false
	}
	letters := 0
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			if !unicode.Is(unicode.Latin, r) {
				return "", false
			}
			letters++
		case r == ' ' || r == '.' || r == '-' || r == '\'' || r == '’':
		default:
			return "", false
		}
	}
	if letters < 2 {
		return "", false
	}
	if LabelNoise(value) {
		return "", false
	}
	if isAllUpper(value) || isAllLower(value) {
		value = titleCase(value, false)
	}
	return value, true
}

// CleanCompany validates a company name: 2 to 200 runes, no "@". A fully
// upper value is title-cased, keeping short and dotted tokens ("IBM",
// "A.Ş.") as printed.
func CleanCompany(raw string, lx *lexicon.Lexicon) (string, bool) {
	value := StripLabel(CleanValue(raw), lx)
	n := len([]rune(value))
	if n < 2 || n > 200 {
		return "", false
	}
	if strings.Contains(value, "@") {
		return "", false
	}
	if LabelNoise(value) {
		return "", false
	}
	if isAllUpper(value) {
		value = titleCase(value, true)
	}
	return value, true
}

// CleanLocation whitespace-normalizes country, city, title and address
// values without further interpretation.
func CleanLocation(raw string) (string, bool) {
	value := CleanValue(raw)
	if value == "" || len([]rune(value)) > 200 {
		return "", false
	}
	return value, true
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func isAllUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return letters > 0
}

func isAllLower(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 0
}

// titleCase uppercases the first letter of each word part, splitting on
// spaces, hyphens and apostrophes. With preserveShortUpper, all-caps
// tokens shorter than four runes and dotted tokens ("A.Ş.") are kept,
// which spares acronyms and corporate forms.
func titleCase(s string, preserveShortUpper bool) string {
	words := strings.Split(s, " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		if preserveShortUpper && (len([]rune(word)) < 4 || strings.Contains(word, ".")) && isAllUpper(word) {
			continue
		}
		words[i] = titleCaseWord(word)
	}
	return strings.Join(words, " ")
}

func titleCaseWord(word string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range word {
		if upperNext && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		if r == '-' || r == '\'' || r == '’' || r == '.' {
			upperNext = true
			b.WriteRune(r)
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	for _, stop := range []string{"/", "?", "#"} {
		if i := strings.Index(rest, stop); i >= 0 {
			rest = rest[:i]
		}
	}
	if i := strings.Index(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// DomainToWebsite derives a fallback website from an email domain, unless
// the domain belongs to a generic mail provider.
func DomainToWebsite(email string, lx *lexicon.Lexicon) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(email[at+1:])
	if domain == "" || IsGenericMailProvider(domain) {
		return ""
	}
	website, ok := CleanWebsite(domain, lx)
	if !ok {
		return ""
	}
	return website
}

// DomainToCompany derives a fallback company name from an email domain:
// the registrable label, title-cased. Generic providers yield nothing.
func DomainToCompany(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(email[at+1:])
	if domain == "" || IsGenericMailProvider(domain) {
		return ""
	}
	label := strings.Split(domain, ".")[0]
	if len(label) < 2 {
		return ""
	}
	return titleCaseWord(label)
}

// cleanField routes a raw value through the cleaner for its field.
func cleanField(field models.Field, raw string, lx *lexicon.Lexicon) (string, bool) {
	switch field {
	case models.FieldPhone:
		return CleanPhone(raw, lx)
	case models.FieldWebsite:
		return CleanWebsite(raw, lx)
	case models.FieldName:
		return CleanName(raw, lx)
	case models.FieldCompany:
		return CleanCompany(raw, lx)
	case models.FieldCountry, models.FieldCity, models.FieldTitle, models.FieldAddress:
		return CleanLocation(raw)
	}
	return "", false
}
