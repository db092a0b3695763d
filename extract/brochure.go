package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mehran282/off-board-v1/models"
)

// BrochurePagesURL builds the per-page content URL of a brochure.
func BrochurePagesURL(apiBase, contentID string) string {
	return strings.TrimRight(apiBase, "/") + "/brochures/" + url.PathEscape(contentID) + "/pages?partner=kaufda_web"
}

func decodeBrochure(body []byte) ([]map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "extract: decode brochure pages")
	}
	contents := objects(payload["contents"])
	if len(contents) == 0 {
		return nil, eris.New("extract: brochure pages without contents")
	}
	return contents, nil
}

// enrichFlyer applies brochure page data to flyer. The first page image is
// the highest-priority preview, and an unknown page count is taken from the
// number of pages.
func enrichFlyer(flyer models.FlyerRecord, contents []map[string]any) models.FlyerRecord {
	if img, ok := firstOf(contents[0], imageVariant("url"), imageVariant("image")); ok &&
		!strings.HasSuffix(strings.ToLower(img), ".pdf") {
		flyer.ThumbnailURL = &img
	}
	if flyer.Pages <= 0 {
		flyer.Pages = len(contents)
	}
	return flyer
}

// brochureOffers maps offers embedded in brochure pages. They inherit the
// flyer's content id as parent and its retailer when they name none.
func (e *Extractor) brochureOffers(flyer models.FlyerRecord, contents []map[string]any) []models.Record {
	var out []models.Record
	for i, content := range contents {
		page, ok := integer(content["page"])
		if !ok {
			page = i + 1
		}
		for _, raw := range objects(content["offers"]) {
			rec, ok := e.offer(raw)
			if !ok {
				continue
			}
			if rec.ParentContentID == nil {
				rec.ParentContentID = flyer.ContentID
			}
			if rec.PageNumber == nil {
				rec.PageNumber = models.Ptr(page)
			}
			if rec.Retailer == "" {
				rec.Retailer = flyer.Retailer
			}
			if rec.ValidFrom == nil {
				rec.ValidFrom = models.Ptr(flyer.ValidFrom)
			}
			if rec.ValidUntil == nil {
				rec.ValidUntil = models.Ptr(flyer.ValidUntil)
			}
			out = append(out, rec)
		}
	}
	return out
}
