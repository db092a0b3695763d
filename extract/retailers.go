package extract

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/parser"
)

var slugReplacer = strings.NewReplacer(
	" ", "-",
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// linkboxName reads a retailer name from a publisher link entry.
var linkboxName = []strategy[string]{
	text("link_text"),
	func(raw map[string]any) (string, bool) {
		title, ok := str(raw["image_metaTitle"])
		if !ok {
			return "", false
		}
		return str(strings.Replace(title, " Prospekte & Angebote", "", 1))
	},
	text("description"),
}

var linkboxSections = []string{"PublisherLinkbox", "PublisherLogoLinkbox_Other"}

// retailerSet collects retailers by name, keeping first-seen order and
// filling in logos and store pages from later sightings.
type retailerSet struct {
	order []string
	byKey map[string]*models.RetailerRecord
}

func (s *retailerSet) add(rec models.RetailerRecord) {
	if s.byKey == nil {
		s.byKey = make(map[string]*models.RetailerRecord)
	}
	if existing, ok := s.byKey[rec.Name]; ok {
		if existing.LogoURL == nil {
			existing.LogoURL = rec.LogoURL
		}
		existing.StorePages = mergePages(existing.StorePages, rec.StorePages)
		return
	}
	s.order = append(s.order, rec.Name)
	s.byKey[rec.Name] = &rec
}

func (s *retailerSet) records() []models.Record {
	out := make([]models.Record, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.byKey[name])
	}
	return out
}

func (e *Extractor) retailers(rs []map[string]any) []models.Record {
	var set retailerSet
	for _, key := range linkboxSections {
		box := section(rs, "template", "content", key)
		if box == nil {
			box = section(rs, key)
		}
		for _, link := range objects(box["links"]) {
			name, ok := firstOf(link, linkboxName...)
			if !ok {
				continue
			}
			href, _ := firstOf(link, text("link_href"), text("href"))
			set.add(e.retailer(name, optional(link, text("image_url")), href))
		}
	}
	for _, raw := range flyerItems(rs) {
		if name, ok := str(at(raw, "publisher", "name")); ok {
			logo := optional(raw, imageVariant("publisher", "logo", "url"))
			set.add(e.retailer(name, logo, ""))
		}
	}
	for _, raw := range offerItems(rs) {
		if name, ok := str(raw["publisherName"]); ok {
			set.add(e.retailer(name, nil, ""))
		}
	}
	return set.records()
}

func (e *Extractor) retailer(name string, logo *string, href string) models.RetailerRecord {
	if logo != nil {
		logo = models.NonEmpty(parser.NormalizeURL(e.baseURL, *logo))
	}
	return models.RetailerRecord{
		Name:       name,
		Category:   models.DefaultCategory,
		LogoURL:    logo,
		StorePages: e.storePages(name, href),
	}
}

// storePages lists candidate store-listing URLs for a retailer: the one
// derived from its assortment link first, then slug guesses.
func (e *Extractor) storePages(name, href string) []string {
	var pages []string
	if u, err := url.Parse(href); err == nil && strings.Contains(u.Path, "/Sortiment") {
		slug := strings.ReplaceAll(strings.Replace(u.Path, "/Sortiment", "", 1), "/", "")
		if slug != "" {
			pages = append(pages, e.baseURL+"/Geschaefte/"+slug)
		}
	}
	name = norm.NFC.String(name)
	pages = append(pages,
		e.baseURL+"/Geschaefte/"+slugReplacer.Replace(name),
		e.baseURL+"/Geschaefte/"+strings.ReplaceAll(name, " ", "-"),
	)
	return mergePages(pages, nil)
}

// mergePages appends b to a without duplicates, preserving order.
func mergePages(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range append(append([]string{}, a...), b...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
