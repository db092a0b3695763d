// Package models defines the entities and candidate records of the ingestion pipeline.
package models

import "time"

// Kind names an entity kind produced by extraction.
type Kind string

const (
	KindRetailer Kind = "retailer"
	KindFlyer    Kind = "flyer"
	KindOffer    Kind = "offer"
	KindStore    Kind = "store"
)

// Record is a candidate produced by the extraction layer.
type Record interface {
	Kind() Kind
}

// Keyed is implemented by records carrying a URL and an optional content id.
// Only keyed records take part in run-level deduplication.
type Keyed interface {
	Record
	Keys() (url string, contentID *string)
}

// RetailerRecord is a candidate retailer.
type RetailerRecord struct {
	Name     string  `csv:"name" json:"name"`
	Category string  `csv:"category" json:"category"`
	LogoURL  *string `csv:"logo_url" json:"logoUrl,omitempty"`

	// StorePages lists candidate store-listing pages in the order they
	// should be tried. It is consumed by the crawler and never persisted.
	StorePages []string `csv:"-" json:"-"`
}

func (RetailerRecord) Kind() Kind { return KindRetailer }

// FlyerRecord is a candidate flyer (brochure).
type FlyerRecord struct {
	URL            string     `csv:"url" json:"url"`
	ContentID      *string    `csv:"content_id" json:"contentId,omitempty"`
	Title          string     `csv:"title" json:"title"`
	Pages          int        `csv:"pages" json:"pages"`
	ValidFrom      time.Time  `csv:"valid_from" json:"validFrom"`
	ValidUntil     time.Time  `csv:"valid_until" json:"validUntil"`
	PublishedFrom  *time.Time `csv:"published_from" json:"publishedFrom,omitempty"`
	PublishedUntil *time.Time `csv:"published_until" json:"publishedUntil,omitempty"`
	PDFURL         *string    `csv:"pdf_url" json:"pdfUrl,omitempty"`
	ThumbnailURL   *string    `csv:"thumbnail_url" json:"thumbnailUrl,omitempty"`
	Retailer       string     `csv:"retailer" json:"retailer"`
}

func (FlyerRecord) Kind() Kind { return KindFlyer }

func (f FlyerRecord) Keys() (string, *string) { return f.URL, f.ContentID }

// OfferRecord is a candidate offer.
type OfferRecord struct {
	URL               string     `csv:"url" json:"url"`
	ContentID         *string    `csv:"content_id" json:"contentId,omitempty"`
	ParentContentID   *string    `csv:"parent_content_id" json:"parentContentId,omitempty"`
	FlyerID           *string    `csv:"flyer_id" json:"flyerId,omitempty"`
	ProductName       string     `csv:"product_name" json:"productName"`
	Brand             *string    `csv:"brand" json:"brand,omitempty"`
	Category          *string    `csv:"category" json:"category,omitempty"`
	Description       *string    `csv:"description" json:"description,omitempty"`
	CurrentPrice      float64    `csv:"current_price" json:"currentPrice"`
	OldPrice          *float64   `csv:"old_price" json:"oldPrice,omitempty"`
	UnitPrice         *string    `csv:"unit_price" json:"unitPrice,omitempty"`
	PriceFormatted    *string    `csv:"price_formatted" json:"priceFormatted,omitempty"`
	OldPriceFormatted *string    `csv:"old_price_formatted" json:"oldPriceFormatted,omitempty"`
	PriceFrequency    *string    `csv:"price_frequency" json:"priceFrequency,omitempty"`
	PriceConditions   *string    `csv:"price_conditions" json:"priceConditions,omitempty"`
	ImageURL          *string    `csv:"image_url" json:"imageUrl,omitempty"`
	ImageAlt          *string    `csv:"image_alt" json:"imageAlt,omitempty"`
	ImageTitle        *string    `csv:"image_title" json:"imageTitle,omitempty"`
	ValidFrom         *time.Time `csv:"valid_from" json:"validFrom,omitempty"`
	ValidUntil        *time.Time `csv:"valid_until" json:"validUntil,omitempty"`
	PageNumber        *int       `csv:"page_number" json:"pageNumber,omitempty"`
	PublisherID       *string    `csv:"publisher_id" json:"publisherId,omitempty"`
	Retailer          string     `csv:"retailer" json:"retailer"`
}

func (OfferRecord) Kind() Kind { return KindOffer }

func (o OfferRecord) Keys() (string, *string) { return o.URL, o.ContentID }

// StoreRecord is a candidate physical store of a retailer.
type StoreRecord struct {
	Retailer     string   `csv:"retailer" json:"retailer"`
	Address      string   `csv:"address" json:"address"`
	City         string   `csv:"city" json:"city"`
	PostalCode   string   `csv:"postal_code" json:"postalCode"`
	Latitude     *float64 `csv:"latitude" json:"latitude,omitempty"`
	Longitude    *float64 `csv:"longitude" json:"longitude,omitempty"`
	Phone        *string  `csv:"phone" json:"phone,omitempty"`
	OpeningHours *string  `csv:"opening_hours" json:"openingHours,omitempty"`
}

func (StoreRecord) Kind() Kind { return KindStore }

// Outcome reports the effect of persisting one record.
type Outcome struct {
	Kind    Kind
	ID      string
	Created bool
	Updated bool
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// NonEmpty returns a pointer to s, or nil when s is blank.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
