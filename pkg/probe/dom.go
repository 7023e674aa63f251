package probe

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// matchingElementText returns the text of the innermost element whose text
// contains phrase (lower-cased), or "" when none does.
func matchingElementText(rawHTML, phrase string) string {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	doc := goquery.NewDocumentFromNode(root)

	contains := func(sel *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(sel.Text()), phrase)
	}

	var found string
	doc.Find("body *").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if isSkippedElement(goquery.NodeName(sel)) || !contains(sel) {
			return true
		}
		// Keep descending while a child still carries the phrase
		deeper := false
		sel.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if !isSkippedElement(goquery.NodeName(child)) && contains(child) {
				deeper = true
				return false
			}
			return true
		})
		if deeper {
			return true
		}
		found = collapseSpace(sel.Text())
		return false
	})
	return found
}

func isSkippedElement(name string) bool {
	switch name {
	case "script", "style", "noscript", "template", "svg":
		return true
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

// toFloat converts a number decoded from a page evaluation.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
