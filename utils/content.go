// utils/content.go
package utils

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/unicode/norm"
)

// NormalizeContent puts authored text into NFC form and collapses runs of
// whitespace. Arabic content typed on different keyboards otherwise compares
// unequal even when it renders the same.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// GameSlug derives a URL slug from a title, falling back to the game's
// position when the title transliterates to nothing.
func GameSlug(title string, level, stage int) string {
	if s := slug.Make(NormalizeContent(title)); s != "" {
		return s
	}
	return fmt.Sprintf("level-%d-stage-%d", level, stage)
}

// SearchKey is the lower-case ASCII form of s used for catalog search.
func SearchKey(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(NormalizeContent(s))))
}
