// ABOUTME: Formatting pass that re-flows sanitized replies for chat clients
// ABOUTME: Inserts paragraph and line breaks and normalizes list markers

package sanitize

import (
	"regexp"
	"strings"
)

var (
	// Sentence end followed by a capitalized word, optionally opened with
	// Spanish inverted punctuation or a quote.
	sentenceBreak = regexp.MustCompile(`([.!?])[ \t]+([¿¡"“]?\p{Lu})`)

	urlBreak   = regexp.MustCompile(`[ \t]+((?:https?://|www\.)\S)`)
	emailBreak = regexp.MustCompile(`[ \t]+([A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+\.[A-Za-z0-9.\-]+)`)
	phoneBreak = regexp.MustCompile(`[ \t]+(\+?\(?\d[\d\-() ]{5,}\d)`)
	isoDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

	salutationBreak = regexp.MustCompile(`[ \t]+((?:Saludos|Atentamente|Un saludo|Cordialmente|Best regards|Kind regards|Regards|Cheers|Sincerely)\b)`)

	listMarker     = regexp.MustCompile(`(?m)^-[ \t]+`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// Format re-flows text for a chat medium. It only rewrites whitespace,
// apart from turning leading "- " list markers into "• ".
func Format(s string) string {
	if s == "" {
		return ""
	}
	out := sentenceBreak.ReplaceAllString(s, "${1}\n\n${2}")
	out = urlBreak.ReplaceAllString(out, "\n${1}")
	out = emailBreak.ReplaceAllString(out, "\n${1}")
	out = phoneBreak.ReplaceAllStringFunc(out, breakPhone)
	out = salutationBreak.ReplaceAllString(out, "\n\n${1}")
	out = listMarker.ReplaceAllString(out, "• ")
	out = trailingSpaces.ReplaceAllString(out, "\n")
	out = manyNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// minPhoneDigits is the fewest digits a token needs to be read as a phone number.
const minPhoneDigits = 7

// breakPhone moves a phone-number-like token to its own line. Dates and
// short numbers keep their leading space.
func breakPhone(match string) string {
	token := strings.TrimLeft(match, " \t")
	if isoDate.MatchString(token) {
		return match
	}
	digits := 0
	for _, r := range token {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < minPhoneDigits {
		return match
	}
	return "\n" + token
}
