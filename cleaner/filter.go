package cleaner

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// removeMatches deletes every element matching any of sels, in place.
func removeMatches(doc *goquery.Document, sels []cascadia.Selector) {
	for _, sel := range sels {
		if sel == nil {
			continue
		}
		doc.FindMatcher(sel).Remove()
	}
}
