package extract

import (
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
)

var (
	offerPrice       = []strategy[float64]{positive(number("prices", "mainPrice")), positive(number("prices", "price")), positive(number("price"))}
	offerOldPrice    = []strategy[float64]{positive(number("prices", "secondaryPrice")), positive(number("oldPrice"))}
	offerRetailer    = []strategy[string]{text("publisherName"), text("publisher", "name")}
	offerDescription = []strategy[string]{text("description"), text("preview", "description")}
	offerImage       = []strategy[string]{imageVariant("offerImages", "url"), imageVariant("image"), text("imageUrl")}
	offerUnitPrice   = []strategy[string]{encoded("prices", "priceByBaseUnit"), text("unitPrice")}
)

func offerItems(rs []map[string]any) []map[string]any {
	offers := section(rs, "offers")
	items := objects(at(offers, "main", "items"))
	return append(items, objects(offers["topRanked"])...)
}

func (e *Extractor) offers(rs []map[string]any) []models.Record {
	var out []models.Record
	for i, raw := range offerItems(rs) {
		rec, ok := e.offer(raw)
		if !ok {
			zap.L().Debug("extract: skipping offer without identity", zap.Int("index", i))
			continue
		}
		out = append(out, rec)
	}
	return out
}

// offer maps one raw offer object. Offers without an id get no canonical
// URL and are skipped.
func (e *Extractor) offer(raw map[string]any) (models.OfferRecord, bool) {
	id, ok := str(raw["id"])
	if !ok {
		return models.OfferRecord{}, false
	}
	name, _ := firstOf(raw, text("title"), text("name"), text("productName"))
	price, _ := firstOf(raw, offerPrice...)
	retailer, _ := firstOf(raw, offerRetailer...)

	return models.OfferRecord{
		URL:               e.baseURL + "/Angebote/" + id,
		ContentID:         &id,
		ParentContentID:   optional(raw, text("parentContent", "id")),
		ProductName:       name,
		Brand:             optional(raw, text("brand"), text("brand", "name")),
		Category:          optional(raw, text("parentContent", "type"), text("category")),
		Description:       optional(raw, offerDescription...),
		CurrentPrice:      price,
		OldPrice:          optional(raw, offerOldPrice...),
		UnitPrice:         optional(raw, offerUnitPrice...),
		PriceFormatted:    optional(raw, text("prices", "mainPriceFormatted")),
		OldPriceFormatted: optional(raw, text("prices", "secondaryPriceFormatted")),
		PriceFrequency:    optional(raw, text("prices", "mainPriceFrequency")),
		PriceConditions:   optional(raw, encoded("prices", "conditions")),
		ImageURL:          optional(raw, offerImage...),
		ImageAlt:          optional(raw, text("offerImages", "metaData", "imageAlt")),
		ImageTitle:        optional(raw, text("offerImages", "metaData", "imageTitle")),
		ValidFrom:         optionalDate(raw, "validFrom"),
		ValidUntil:        optionalDate(raw, "validUntil"),
		PageNumber:        optional(raw, whole("parentContent", "page", "number")),
		PublisherID:       optional(raw, text("publisherId")),
		Retailer:          retailer,
	}, true
}
