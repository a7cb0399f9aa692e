// Package knowledge keeps the knowledge store in step with the help pages of the site.
package knowledge

import (
	"regexp"
	"strings"
)

var relativeLink = regexp.MustCompile(`(src|href)="/([^/])`)

// Normalize rewrites root-relative src and href attributes to absolute URLs on origin.
// Protocol-relative ("//host") and absolute links are left alone. Normalize is idempotent.
func Normalize(content, origin string) string {
	origin = strings.TrimRight(origin, "/")
	return relativeLink.ReplaceAllString(content, `$1="`+origin+`/$2`)
}
