// SPDX-License-Identifier: MIT

package registry

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 50

// umlauts are folded to their two-letter forms before NFKD stripping,
// which would otherwise reduce "ä" to "a".
var umlauts = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

var reDash = regexp.MustCompile(`-+`)

// slugify converts a topic into a URL-safe, human-readable slug.
// Example: "Travel to Spain" → "travel-to-spain"
func slugify(topic string) string {
	if topic == "" {
		return "topic"
	}

	s := umlauts.Replace(strings.ToLower(topic))

	// Strip diacritics: decompose, then drop combining marks.
	var folded strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		folded.WriteRune(r)
	}

	// Keep only a-z and 0-9; collapse everything else to single dashes.
	var result strings.Builder
	lastWasDash := false
	for _, r := range folded.String() {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
			lastWasDash = false
		} else if !lastWasDash {
			result.WriteRune('-')
			lastWasDash = true
		}
	}

	slug := strings.Trim(result.String(), "-")
	slug = reDash.ReplaceAllString(slug, "-")

	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}

	if slug == "" {
		return "topic"
	}
	return slug
}
