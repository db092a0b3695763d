package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mehran282/off-board-v1/models"
)

var (
	priceToken     = regexp.MustCompile(`\d[\d.,]*`)
	thousandsOnly  = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	dateTimeLayout = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02.01.2006",
	}
)

// NormalizeURL resolves href against base. Absolute URLs are returned
// unchanged; blank input yields "".
func NormalizeURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// ParsePrice reads the first amount in text, accepting German ("1.299,00 €")
// and plain ("6.49") notations.
func ParsePrice(text string) (float64, bool) {
	tok := strings.TrimRight(priceToken.FindString(text), ".,")
	if tok == "" {
		return 0, false
	}
	switch {
	case strings.Contains(tok, ",") && strings.Contains(tok, "."):
		tok = strings.ReplaceAll(tok, ".", "")
		tok = strings.ReplaceAll(tok, ",", ".")
	case strings.Contains(tok, ","):
		tok = strings.ReplaceAll(tok, ",", ".")
	case thousandsOnly.MatchString(tok):
		tok = strings.ReplaceAll(tok, ".", "")
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDate parses ISO-8601 timestamps with numeric offsets
// ("2025-11-16T23:00:00.000+0000"), plain dates and dd.mm.yyyy. The result
// is in UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayout {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Normalize trims the text fields of rec that identify it. Business values
// are left as extracted.
func Normalize(rec models.Record) models.Record {
	switch r := rec.(type) {
	case models.RetailerRecord:
		r.Name = strings.TrimSpace(r.Name)
		r.Category = strings.TrimSpace(r.Category)
		return r
	case models.FlyerRecord:
		r.URL = strings.TrimSpace(r.URL)
		r.Title = strings.TrimSpace(r.Title)
		r.Retailer = strings.TrimSpace(r.Retailer)
		return r
	case models.OfferRecord:
		r.URL = strings.TrimSpace(r.URL)
		r.ProductName = strings.TrimSpace(r.ProductName)
		r.Retailer = strings.TrimSpace(r.Retailer)
		return r
	case models.StoreRecord:
		r.Retailer = strings.TrimSpace(r.Retailer)
		r.Address = strings.TrimSpace(r.Address)
		r.City = strings.TrimSpace(r.City)
		r.PostalCode = strings.TrimSpace(r.PostalCode)
		return r
	}
	return rec
}
