package images

import (
	"strings"
	"unicode"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const slugSeparator = '-'

// Slug turns a title into a lower-case, hyphen separated, URL and filesystem safe name.
// Accents are folded and other scripts transliterated to ASCII, "@" becomes "at",
// underscores and whitespace become separators and any other punctuation is dropped.
func Slug(title string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, title)
	if err != nil {
		folded = title
	}
	folded = unidecode.Unidecode(folded)

	folded = strings.ReplaceAll(folded, "_", string(slugSeparator))
	folded = strings.ReplaceAll(folded, "@", "-at-")
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingSeparator := false
	for _, r := range folded {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsNumber(r)):
			if pendingSeparator && b.Len() > 0 {
				b.WriteRune(slugSeparator)
			}
			pendingSeparator = false
			b.WriteRune(r)
		case r == slugSeparator || unicode.IsSpace(r):
			pendingSeparator = true
		}
	}

	return b.String()
}
