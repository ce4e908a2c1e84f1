package pipeline

import (
	"strings"
	"unicode"

	"github.com/ternarybob/colligo/internal/lexicon"
)

// emailBlacklist rejects emails whose lowered form contains any of these
// substrings. Covers asset filenames scraped as emails, placeholder
// domains and transactional senders that never identify a person.
var emailBlacklist = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp", ".ico",
	"example.com", "example.org", "example.net",
	"yourdomain", "yourcompany", "domain.com", "email.com.tr",
	"localhost", ".invalid", ".test",
	"noreply", "no-reply", "no_reply", "donotreply", "do-not-reply",
	"mailer-daemon", "postmaster@", "abuse@", "spam@",
	"sentry.io", "sentry.wixpress", "wixpress.com", "godaddy.com",
	"user@", "test@test", "demo@demo", "name@", "mail@mail",
}

// docSuffixes mark URLs (and email lookalikes) that point at documents or
// media rather than a site.
var docSuffixes = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".7z", ".csv",
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".mp4", ".mp3",
}

// socialHosts never count as a contact's own website.
var socialHosts = []string{
	"facebook.com", "fb.com", "fb.me", "messenger.com",
	"twitter.com", "x.com", "t.co",
	"instagram.com", "linkedin.com", "lnkd.in",
	"youtube.com", "youtu.be", "tiktok.com", "pinterest.com",
	"whatsapp.com", "wa.me", "telegram.me", "t.me",
	"snapchat.com", "reddit.com", "medium.com", "threads.net",
	"vk.com", "weibo.com", "wechat.com", "skype.com",
	"goo.gl", "bit.ly", "linktr.ee",
}

// genericMailProviders are consumer mail domains; an email there says
// nothing about the person's company.
var genericMailProviders = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "yahoo.co.uk", "yahoo.fr",
	"yahoo.de", "yahoo.it", "yahoo.es", "ymail.com",
	"hotmail.com", "hotmail.co.uk", "hotmail.fr", "hotmail.de", "hotmail.it",
	"outlook.com", "outlook.de", "outlook.fr", "live.com", "live.co.uk", "msn.com",
	"aol.com", "icloud.com", "me.com", "mac.com",
	"yandex.ru", "yandex.com", "mail.ru", "inbox.ru", "bk.ru", "list.ru",
	"gmx.de", "gmx.net", "gmx.at", "web.de", "t-online.de", "freenet.de",
	"protonmail.com", "proton.me", "pm.me", "zoho.com", "fastmail.com",
	"qq.com", "163.com", "126.com", "sina.com", "naver.com", "daum.net",
	"libero.it", "virgilio.it", "tiscali.it", "orange.fr", "wanadoo.fr",
	"free.fr", "laposte.net", "sfr.fr", "seznam.cz", "wp.pl", "o2.pl", "op.pl",
	"comcast.net", "verizon.net", "att.net", "sbcglobal.net", "bellsouth.net",
	"mynet.com", "superonline.com", "ttmail.com", "windowslive.com",
}

// legalSuffixes are corporate-form tokens; a value containing one is
// treated as a company name. Compared against folded, dot-stripped tokens.
var legalSuffixes = map[string]bool{
	"ltd": true, "llc": true, "llp": true, "lp": true, "plc": true,
	"inc": true, "corp": true, "gmbh": true, "mbh": true, "ag": true,
	"kg": true, "ug": true, "ev": true,
	"limited": true, "incorporated": true, "corporation": true, "holding": true,
	"group": true, "grup": true, "holdings": true,
	"sarl": true, "sas": true, "sasu": true, "eurl": true,
	"srl": true, "spa": true, "snc": true,
	"bv": true, "nv": true, "vof": true,
	"oy": true, "ab": true, "aps": true, "a/s": true,
	"sl": true, "slu": true, "sau": true,
	"kft": true, "zrt": true, "bt": true, "doo": true, "dd": true,
	"sro": true, "oao": true, "ooo": true, "zao": true, "pao": true,
	"pty": true, "pvt": true, "sdn": true, "bhd": true,
	"şti": true, "sti": true, "aş": true, "anonim": true, "şirketi": true,
	"kollektif": true, "komandit": true,
}

// lastOnlySuffixes are too word-like to match anywhere; they count only as
// the final token ("Acme Co", "Statoil SA").
var lastOnlySuffixes = map[string]bool{
	"co": true, "sa": true, "as": true, "se": true, "da": true,
}

// countryAliases maps folded names, common aliases and endonyms to a
// display form. Small on purpose; it gates country detection, not geocoding.
var countryAliases = map[string]string{
	"usa": "USA", "u.s.a": "USA", "u.s.a.": "USA", "united states": "USA",
	"united states of america": "USA", "america": "USA",
	"uk": "United Kingdom", "united kingdom": "United Kingdom",
	"england": "United Kingdom", "great britain": "United Kingdom",
	"scotland": "United Kingdom", "wales": "United Kingdom",
	"turkey": "Turkey", "türkiye": "Turkey", "turkiye": "Turkey",
	"germany": "Germany", "deutschland": "Germany",
	"france": "France", "spain": "Spain", "españa": "Spain", "espana": "Spain",
	"italy": "Italy", "italia": "Italy",
	"netherlands": "Netherlands", "holland": "Netherlands", "nederland": "Netherlands",
	"belgium": "Belgium", "belgique": "Belgium",
	"switzerland": "Switzerland", "schweiz": "Switzerland", "suisse": "Switzerland",
	"austria": "Austria", "österreich": "Austria", "osterreich": "Austria",
	"sweden": "Sweden", "sverige": "Sweden",
	"norway": "Norway", "norge": "Norway",
	"denmark": "Denmark", "danmark": "Denmark",
	"finland": "Finland", "suomi": "Finland",
	"poland": "Poland", "polska": "Poland",
	"czech republic": "Czech Republic", "czechia": "Czech Republic",
	"slovakia": "Slovakia", "slovensko": "Slovakia",
	"hungary": "Hungary", "magyarország": "Hungary",
	"romania": "Romania", "românia": "Romania",
	"bulgaria": "Bulgaria", "greece": "Greece", "hellas": "Greece",
	"portugal": "Portugal", "ireland": "Ireland", "iceland": "Iceland",
	"croatia": "Croatia", "hrvatska": "Croatia",
	"serbia": "Serbia", "srbija": "Serbia",
	"slovenia": "Slovenia", "slovenija": "Slovenia",
	"ukraine": "Ukraine", "україна": "Ukraine",
	"russia": "Russia", "россия": "Russia", "russian federation": "Russia",
	"china": "China", "中国": "China", "prc": "China",
	"japan": "Japan", "日本": "Japan", "nippon": "Japan",
	"south korea": "South Korea", "korea": "South Korea", "한국": "South Korea",
	"india": "India", "bharat": "India",
	"brazil": "Brazil", "brasil": "Brazil",
	"mexico": "Mexico", "méxico": "Mexico",
	"canada": "Canada", "australia": "Australia", "new zealand": "New Zealand",
	"uae": "UAE", "united arab emirates": "UAE", "dubai": "UAE", "abu dhabi": "UAE",
	"saudi arabia": "Saudi Arabia", "qatar": "Qatar", "kuwait": "Kuwait",
	"bahrain": "Bahrain", "oman": "Oman", "jordan": "Jordan", "lebanon": "Lebanon",
	"israel": "Israel", "egypt": "Egypt", "مصر": "Egypt",
	"morocco": "Morocco", "tunisia": "Tunisia", "algeria": "Algeria",
	"south africa": "South Africa", "nigeria": "Nigeria", "kenya": "Kenya",
	"ghana": "Ghana", "ethiopia": "Ethiopia",
	"argentina": "Argentina", "chile": "Chile", "colombia": "Colombia",
	"peru": "Peru", "perú": "Peru", "venezuela": "Venezuela",
	"uruguay": "Uruguay", "ecuador": "Ecuador",
	"indonesia": "Indonesia", "malaysia": "Malaysia", "singapore": "Singapore",
	"thailand": "Thailand", "vietnam": "Vietnam", "viet nam": "Vietnam",
	"philippines": "Philippines", "pakistan": "Pakistan", "bangladesh": "Bangladesh",
	"sri lanka": "Sri Lanka", "taiwan": "Taiwan", "hong kong": "Hong Kong",
	"azerbaijan": "Azerbaijan", "georgia": "Georgia", "armenia": "Armenia",
	"kazakhstan": "Kazakhstan", "uzbekistan": "Uzbekistan",
	"lithuania": "Lithuania", "latvia": "Latvia", "estonia": "Estonia",
	"cyprus": "Cyprus", "malta": "Malta", "luxembourg": "Luxembourg",
}

// dialCodeCountries maps an international dial prefix to its country.
// Shared prefixes resolve to the most common holder.
var dialCodeCountries = map[string]string{
	"+1": "USA", "+7": "Russia", "+20": "Egypt", "+27": "South Africa",
	"+30": "Greece", "+31": "Netherlands", "+32": "Belgium", "+33": "France",
	"+34": "Spain", "+36": "Hungary", "+39": "Italy", "+40": "Romania",
	"+41": "Switzerland", "+43": "Austria", "+44": "United Kingdom",
	"+45": "Denmark", "+46": "Sweden", "+47": "Norway", "+48": "Poland",
	"+49": "Germany", "+51": "Peru", "+52": "Mexico", "+54": "Argentina",
	"+55": "Brazil", "+56": "Chile", "+57": "Colombia", "+58": "Venezuela",
	"+60": "Malaysia", "+61": "Australia", "+62": "Indonesia", "+63": "Philippines",
	"+64": "New Zealand", "+65": "Singapore", "+66": "Thailand",
	"+81": "Japan", "+82": "South Korea", "+84": "Vietnam", "+86": "China",
	"+90": "Turkey", "+91": "India", "+92": "Pakistan", "+94": "Sri Lanka",
	"+98": "Iran", "+212": "Morocco", "+213": "Algeria", "+216": "Tunisia",
	"+234": "Nigeria", "+254": "Kenya", "+351": "Portugal", "+352": "Luxembourg",
	"+353": "Ireland", "+354": "Iceland", "+358": "Finland", "+359": "Bulgaria",
	"+370": "Lithuania", "+371": "Latvia", "+372": "Estonia", "+380": "Ukraine",
	"+385": "Croatia", "+386": "Slovenia", "+420": "Czech Republic",
	"+421": "Slovakia", "+852": "Hong Kong", "+880": "Bangladesh",
	"+886": "Taiwan", "+961": "Lebanon", "+962": "Jordan", "+965": "Kuwait",
	"+966": "Saudi Arabia", "+968": "Oman", "+971": "UAE", "+972": "Israel",
	"+973": "Bahrain", "+974": "Qatar", "+994": "Azerbaijan", "+995": "Georgia",
}

// IsBlacklistedEmail reports whether the lowered email trips the blacklist.
func IsBlacklistedEmail(email string) bool {
	e := strings.ToLower(email)
	for _, bad := range emailBlacklist {
		if strings.Contains(e, bad) {
			return true
		}
	}
	return false
}

// HasDocSuffix reports whether the value ends in a document or media
// extension, query string and fragment ignored.
func HasDocSuffix(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimRight(v, "/")
	for _, suffix := range docSuffixes {
		if strings.HasSuffix(v, suffix) {
			return true
		}
	}
	return false
}

// IsSocialHost reports whether the host (or a parent domain) belongs to a
// social-media or link-shortener service.
func IsSocialHost(host string) bool {
	h := strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, social := range socialHosts {
		if h == social || strings.HasSuffix(h, "."+social) {
			return true
		}
	}
	return false
}

// IsGenericMailProvider reports whether the domain is a consumer mail host.
func IsGenericMailProvider(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	for _, provider := range genericMailProviders {
		if d == provider || strings.HasSuffix(d, "."+provider) {
			return true
		}
	}
	return false
}

// HasLegalSuffix reports whether the value contains a corporate-form token.
func HasLegalSuffix(value string) bool {
	tokens := strings.Fields(lexicon.Fold(value))
	for i, token := range tokens {
		token = strings.Trim(token, ".,;()")
		// "a.ş" style tokens keep inner dots; compare both spellings.
		if legalSuffixes[token] || legalSuffixes[strings.ReplaceAll(token, ".", "")] {
			return true
		}
		if i == len(tokens)-1 && lastOnlySuffixes[token] {
			return true
		}
	}
	return false
}

// IsAllCapsLine reports whether a line reads as an all-capitals heading,
// the way many directories print company names.
func IsAllCapsLine(line string) bool {
	line = strings.TrimSpace(line)
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return letters >= 3 && len([]rune(line)) <= 60
}

// CanonicalCountry resolves a whole value ("USA", "Türkiye") to its display
// form, or "" when the value is not a known country.
func CanonicalCountry(value string) string {
	return countryAliases[lexicon.Fold(allWhitespaceRe.ReplaceAllString(value, " "))]
}

// CountryInText scans free text for a country mention or an international
// dial code and returns the display form, or "".
func CountryInText(text string) string {
	folded := lexicon.Fold(text)
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	// Multi-word aliases first so "united states" beats nothing and
	// "south africa" is not missed for want of a single-token match.
	for i := range tokens {
		for n := 3; n >= 1; n-- {
			if i+n > len(tokens) {
				continue
			}
			if c, ok := countryAliases[strings.Join(tokens[i:i+n], " ")]; ok {
				return c
			}
		}
	}
	// CJK text does not space-delimit words, so those aliases are checked
	// as substrings instead.
	for alias, display := range countryAliases {
		if containsCJK(alias) && strings.Contains(folded, alias) {
			return display
		}
	}
	if code := dialCodeRe.FindString(text); code != "" {
		for l := len(code); l >= 2; l-- {
			if c, ok := dialCodeCountries[code[:l]]; ok {
				return c
			}
		}
	}
	return ""
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

// LabelNoise reports whether a value still reads as a field label: it is
// exactly a lexicon surface form, or a surface form followed by a colon
// remains embedded in it ("Email: jane@...").
func LabelNoise(value string) bool {
	folded := lexicon.Fold(value)
	if folded == "" {
		return false
	}
	for _, entry := range lexicon.Default().Labels() {
		if folded == entry.Surface {
			return true
		}
		if len(entry.Surface) < 3 {
			continue
		}
		if idx := strings.Index(folded, entry.Surface); idx >= 0 {
			rest := strings.TrimLeft(folded[idx+len(entry.Surface):], " \t")
			if strings.HasPrefix(rest, ":") {
				return true
			}
		}
	}
	return false
}
