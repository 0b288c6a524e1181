package textutil

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
	richOnce     sync.Once
	richPolicy   *bluemonday.Policy
)

func strict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

func rich() *bluemonday.Policy {
	richOnce.Do(func() {
		richPolicy = bluemonday.UGCPolicy()
		richPolicy.RequireNoFollowOnLinks(true)
		richPolicy.AddTargetBlankToFullyQualifiedLinks(true)
	})
	return richPolicy
}

// PlainText strips all markup, applies NFC normalisation and collapses whitespace. Entities the
// sanitiser emits are decoded again since the result is never rendered as HTML.
func PlainText(value string) string {
	cleaned := html.UnescapeString(strict().Sanitize(norm.NFC.String(value)))
	return strings.Join(strings.Fields(cleaned), " ")
}

// RichText keeps a user-generated-content safe subset of HTML and trims surrounding space.
func RichText(value string) string {
	return strings.TrimSpace(rich().Sanitize(norm.NFC.String(value)))
}

// Keyword reduces value to the case-folded plain form used for category and tag matching.
// cases.Caser is stateful, so a fresh one is built per call.
func Keyword(value string) string {
	return cases.Fold().String(PlainText(value))
}

// Keywords folds every value, dropping blanks and duplicates while keeping first-seen order.
func Keywords(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		keyword := Keyword(value)
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		result = append(result, keyword)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
