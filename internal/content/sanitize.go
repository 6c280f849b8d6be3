// Package content cleans user-submitted post HTML before it is stored.
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// policy allows the user-generated-content subset of HTML. Links and images
// must use http, https, mailto or a relative URL.
var policy = bluemonday.UGCPolicy()

// Sanitize reduces html to the allowed elements and attributes and returns
// the cleaned fragment.
func Sanitize(html string) (string, error) {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html), nil
	}
	return strings.TrimSpace(policy.Sanitize(html)), nil
}

// IsBlank reports whether html has no visible text and no images.
func IsBlank(html string) bool {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html) == ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	return strings.TrimSpace(doc.Text()) == "" && doc.Find("img").Length() == 0
}
