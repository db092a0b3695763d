package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/parser"
)

var (
	pageCountPattern = regexp.MustCompile(`(?i)(\d+)\s*(Seiten|pages)`)
	datePattern      = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`)
	altPricePattern  = regexp.MustCompile(`(\d+[,.]?\d*)\s*€`)
)

// markup extracts best-effort records from document markup.
func (e *Extractor) markup(pageURL string, doc *goquery.Document, kinds models.KindSet) []models.Record {
	var out []models.Record
	if kinds.Has(models.KindRetailer) {
		out = append(out, e.markupRetailers(doc)...)
	}
	if kinds.Has(models.KindFlyer) {
		out = append(out, e.markupFlyers(doc)...)
	}
	if kinds.Has(models.KindOffer) {
		out = append(out, e.markupOffers(pageURL, doc)...)
	}
	return out
}

func (e *Extractor) markupFlyers(doc *goquery.Document) []models.Record {
	var out []models.Record
	seen := make(map[string]struct{})
	doc.Find(`a[href*="Prospekt"], a[href*="prospekt"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		url := parser.NormalizeURL(e.baseURL, href)
		title := strings.Join(strings.Fields(a.Text()), " ")
		if url == "" || len(title) < 5 {
			return
		}
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}

		rec := models.FlyerRecord{
			URL:        url,
			Title:      title,
			Pages:      1,
			ValidFrom:  e.now().UTC(),
			ValidUntil: e.now().UTC(),
			Retailer:   retailerFromTitle(title),
		}
		if m := pageCountPattern.FindStringSubmatch(title); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				rec.Pages = n
			}
		}
		if dates := datePattern.FindAllString(title, 2); len(dates) == 2 {
			from, okFrom := parser.ParseDate(dates[0])
			until, okUntil := parser.ParseDate(dates[1])
			if okFrom && okUntil {
				rec.ValidFrom, rec.ValidUntil = from, until
			}
		}
		if img, ok := a.Find("img").Attr("src"); ok {
			rec.ThumbnailURL = models.NonEmpty(parser.NormalizeURL(e.baseURL, img))
		}
		out = append(out, rec)
	})
	return out
}

// retailerFromTitle takes the text before "Prospekt", or the first word.
func retailerFromTitle(title string) string {
	if i := strings.Index(strings.ToLower(title), "prospekt"); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	if fields := strings.Fields(title); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// ParseAltText splits image alt text of the form
// "<product> bei <retailer> im <context> für <price> €".
func ParseAltText(alt string) (product, retailer string, price float64, ok bool) {
	before, after, found := strings.Cut(alt, " bei ")
	if !found {
		return "", "", 0, false
	}
	product = strings.TrimSpace(before)
	if r, _, found := strings.Cut(after, " im "); found {
		retailer = strings.TrimSpace(r)
	}
	if m := altPricePattern.FindStringSubmatch(alt); m != nil {
		price, _ = parser.ParsePrice(m[1])
	}
	return product, retailer, price, product != ""
}

func (e *Extractor) markupOffers(pageURL string, doc *goquery.Document) []models.Record {
	var out []models.Record
	doc.Find("img[alt]").Each(func(i int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		product, retailer, price, ok := ParseAltText(alt)
		if !ok {
			return
		}
		url := pageURL + "#offer-" + strconv.Itoa(i)
		if href, ok := img.Closest("a[href]").Attr("href"); ok {
			if u := parser.NormalizeURL(e.baseURL, href); u != "" {
				url = u
			}
		}
		rec := models.OfferRecord{
			URL:          url,
			ProductName:  product,
			CurrentPrice: price,
			Retailer:     retailer,
			ImageAlt:     models.NonEmpty(alt),
		}
		if src, ok := img.Attr("src"); ok {
			rec.ImageURL = models.NonEmpty(parser.NormalizeURL(e.baseURL, src))
		}
		if title, ok := img.Attr("title"); ok {
			rec.ImageTitle = models.NonEmpty(strings.TrimSpace(title))
		}
		out = append(out, rec)
	})
	return out
}

func (e *Extractor) markupRetailers(doc *goquery.Document) []models.Record {
	var set retailerSet
	doc.Find(`a[href*="/Geschaefte/"], a[href*="/Sortiment"]`).Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if len(name) <= 2 {
			return
		}
		href, _ := a.Attr("href")
		var logo *string
		if src, ok := a.Find("img").Attr("src"); ok {
			logo = models.NonEmpty(src)
		}
		set.add(e.retailer(name, logo, href))
	})
	return set.records()
}
