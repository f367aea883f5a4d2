package backup

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	filenamePrefix   = "ninja-backup-mate-"
	defaultSiteSlug  = "wordpress"
	filenameTimeSpec = "2006-01-02-15-04-05"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	htmlEntityPattern = regexp.MustCompile(`&[^;\s]+;`)
	dashRunPattern    = regexp.MustCompile(`-+`)

	ligatures = strings.NewReplacer(
		"ß", "ss", "æ", "ae", "Æ", "ae", "œ", "oe", "Œ", "oe",
		"ø", "o", "Ø", "o", "đ", "d", "Đ", "d", "ł", "l", "Ł", "l",
		"þ", "th", "Þ", "th", "ð", "d", "Ð", "d",
	)
)

// SanitizeTitle turns a site title into a lowercase, dash-separated slug the
// way WordPress builds post slugs. Accents are folded to ASCII and anything
// outside a-z, 0-9, underscore and dash is dropped.
func SanitizeTitle(title string) string {
	s := htmlTagPattern.ReplaceAllString(title, "")
	s = htmlEntityPattern.ReplaceAllString(s, "")
	s = ligatures.Replace(s)

	// Normalization and mark removal never fail on a Go string; keep the
	// unfolded title if that ever changes.
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		case r == '.', unicode.IsSpace(r):
			sb.WriteByte('-')
		}
	}

	slug := dashRunPattern.ReplaceAllString(sb.String(), "-")
	return strings.Trim(slug, "-")
}

// Filename returns ninja-backup-mate-<site slug>-<UTC timestamp>.zip. An empty
// slug falls back to "wordpress".
func Filename(siteName string, at time.Time) string {
	slug := SanitizeTitle(siteName)
	if slug == "" {
		slug = defaultSiteSlug
	}
	return filenamePrefix + slug + "-" + at.UTC().Format(filenameTimeSpec) + ".zip"
}
