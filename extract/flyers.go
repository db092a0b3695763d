package extract

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/parser"
)

// PreviewHost serves brochure preview images by content id.
const PreviewHost = "https://content-media.bonial.biz"

var (
	flyerContentID = []strategy[string]{text("contentId"), text("id")}
	flyerTitle     = []strategy[string]{text("title"), text("name")}
	flyerPages     = []strategy[int]{whole("pageCount"), pageListLength, whole("pages")}
	flyerRetailer  = []strategy[string]{text("publisher", "name"), text("publisherName"), text("retailer", "name")}
	flyerPDF       = []strategy[string]{
		text("downloadUrl"),
		text("pdfUrl"),
		suffixed(".pdf", firstPageVariant),
	}
)

func pageListLength(raw map[string]any) (int, bool) {
	n := len(list(raw["pages"]))
	return n, n > 0
}

func firstPage(raw map[string]any) any {
	pages := list(raw["pages"])
	if len(pages) == 0 {
		return nil
	}
	return pages[0]
}

// firstPageVariant reads the first page reference, which is a string or an
// object whose url is a string or a map of size variants.
func firstPageVariant(raw map[string]any) (string, bool) {
	switch p := firstPage(raw).(type) {
	case string:
		return str(p)
	case map[string]any:
		return imageVariant("url")(p)
	}
	return "", false
}

// firstPageImage is firstPageVariant restricted to non-document references.
func firstPageImage(raw map[string]any) (string, bool) {
	v, ok := firstPageVariant(raw)
	if !ok || strings.HasSuffix(strings.ToLower(v), ".pdf") {
		return "", false
	}
	return v, true
}

func contentIDPreview(raw map[string]any) (string, bool) {
	id, ok := firstOf(raw, flyerContentID...)
	if !ok {
		return "", false
	}
	return PreviewHost + "/" + id + "/preview.jpg", true
}

// pdfDerivedPreview maps a bonial document URL onto its preview image.
func pdfDerivedPreview(raw map[string]any) (string, bool) {
	pdf, ok := firstOf(raw, flyerPDF...)
	if !ok || !strings.Contains(pdf, "bonial.biz") {
		return "", false
	}
	switch {
	case strings.Contains(pdf, "/file.pdf"):
		return strings.Replace(pdf, "/file.pdf", "/preview.jpg", 1), true
	case strings.HasSuffix(pdf, ".pdf"):
		return strings.TrimSuffix(pdf, ".pdf") + "/preview.jpg", true
	}
	return strings.TrimRight(pdf, "/") + "/preview.jpg", true
}

// flyerThumbnail is the preview-image fallback chain, highest priority first.
var flyerThumbnail = []strategy[string]{
	firstPageImage,
	contentIDPreview,
	imageVariant("preview", "url"),
	imageVariant("imageUrl"),
	imageVariant("thumbnailUrl"),
	imageVariant("previewUrl"),
	pdfDerivedPreview,
}

// flyerItems concatenates the ranked and main brochure lists.
func flyerItems(rs []map[string]any) []map[string]any {
	brochures := section(rs, "brochures")
	items := objects(brochures["topRanked"])
	return append(items, objects(at(brochures, "main", "items"))...)
}

func (e *Extractor) flyers(rs []map[string]any) []models.Record {
	var out []models.Record
	for i, raw := range flyerItems(rs) {
		rec, ok := e.flyer(raw)
		if !ok {
			zap.L().Debug("extract: skipping brochure without identity", zap.Int("index", i))
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (e *Extractor) flyer(raw map[string]any) (models.FlyerRecord, bool) {
	id, hasID := str(raw["id"])
	var url string
	switch {
	case hasID:
		url = e.baseURL + "/Prospekte/" + id
	default:
		u, ok := str(raw["url"])
		if !ok {
			return models.FlyerRecord{}, false
		}
		url = parser.NormalizeURL(e.baseURL, u)
	}

	title, _ := firstOf(raw, flyerTitle...)
	pages, _ := firstOf(raw, flyerPages...)
	retailer, _ := firstOf(raw, flyerRetailer...)

	return models.FlyerRecord{
		URL:            url,
		ContentID:      optional(raw, flyerContentID...),
		Title:          title,
		Pages:          pages,
		ValidFrom:      e.requiredDate(raw, "validFrom"),
		ValidUntil:     e.requiredDate(raw, "validUntil"),
		PublishedFrom:  optionalDate(raw, "publishedFrom"),
		PublishedUntil: optionalDate(raw, "publishedUntil"),
		PDFURL:         optional(raw, flyerPDF...),
		ThumbnailURL:   optional(raw, flyerThumbnail...),
		Retailer:       retailer,
	}, true
}

// requiredDate substitutes the current time when key is missing or malformed.
func (e *Extractor) requiredDate(raw map[string]any, key string) time.Time {
	if s, ok := str(raw[key]); ok {
		if t, ok := parser.ParseDate(s); ok {
			return t
		}
		zap.L().Debug("extract: unparseable date", zap.String("field", key), zap.String("value", s))
	}
	return e.now().UTC()
}

func optionalDate(raw map[string]any, key string) *time.Time {
	s, ok := str(raw[key])
	if !ok {
		return nil
	}
	t, ok := parser.ParseDate(s)
	if !ok {
		return nil
	}
	return &t
}
