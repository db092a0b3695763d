package extract

import (
	"bytes"
	"encoding/json"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ErrNoPayload means a page carries no decodable embedded application state.
var ErrNoPayload = eris.New("extract: no embedded payload")

var payloadSelectors = []string{
	"script#__NEXT_DATA__",
	`script[type="application/json"]`,
}

// parseDocument parses markup once for both payload lookup and fallback.
func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse markup")
	}
	return doc, nil
}

// nextData decodes the embedded Next.js payload of doc.
func nextData(doc *goquery.Document) (map[string]any, error) {
	for _, sel := range payloadSelectors {
		var tree map[string]any
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			var candidate map[string]any
			if err := json.Unmarshal([]byte(s.Text()), &candidate); err != nil {
				return true
			}
			if obj(candidate["props"]) == nil {
				return true
			}
			tree = candidate
			return false
		})
		if tree != nil {
			return tree, nil
		}
	}
	return nil, ErrNoPayload
}

// roots lists the known payload roots in priority order.
func roots(tree map[string]any) []map[string]any {
	var out []map[string]any
	pageProps := obj(at(tree, "props", "pageProps"))
	if info := obj(at(pageProps, "pageInformation")); info != nil {
		out = append(out, info)
	}
	if pageProps != nil {
		out = append(out, pageProps)
	}
	return out
}

// section returns the first non-empty object stored under path across roots.
func section(rs []map[string]any, path ...string) map[string]any {
	for _, r := range rs {
		if m := obj(at(r, path...)); len(m) > 0 {
			return m
		}
	}
	return nil
}
