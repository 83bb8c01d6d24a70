package export

import (
	"regexp"
	"strings"
)

var (
	stemSpaces  = regexp.MustCompile(`\s+`)
	stemDropped = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

const maxStemLen = 50

// fileStem turns a title into an ASCII download name without extension.
func fileStem(title string) string {
	stem := stemSpaces.ReplaceAllString(strings.TrimSpace(title), "-")
	stem = stemDropped.ReplaceAllString(stem, "")
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	if stem == "" {
		return "document"
	}
	return stem
}
