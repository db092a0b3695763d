package models

import (
	"math"
	"time"
)

// DefaultCategory is assigned to retailers synthesized without one.
const DefaultCategory = "General"

// Retailer is a persisted retailer row.
type Retailer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	LogoURL   *string   `json:"logoUrl,omitempty"`
	ScrapedAt time.Time `json:"scrapedAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Flyer is a persisted flyer row.
type Flyer struct {
	ID             string     `json:"id"`
	RetailerID     string     `json:"retailerId"`
	Title          string     `json:"title"`
	Pages          int        `json:"pages"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     time.Time  `json:"validUntil"`
	PublishedFrom  *time.Time `json:"publishedFrom,omitempty"`
	PublishedUntil *time.Time `json:"publishedUntil,omitempty"`
	URL            string     `json:"url"`
	ContentID      *string    `json:"contentId,omitempty"`
	PDFURL         *string    `json:"pdfUrl,omitempty"`
	ThumbnailURL   *string    `json:"thumbnailUrl,omitempty"`
	ScrapedAt      time.Time  `json:"scrapedAt"`
}

// Product is a persisted product row, synthesized from offers.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Brand       *string `json:"brand,omitempty"`
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
}

// Offer is a persisted offer row.
type Offer struct {
	ID                 string     `json:"id"`
	RetailerID         string     `json:"retailerId"`
	FlyerID            *string    `json:"flyerId,omitempty"`
	ProductID          *string    `json:"productId,omitempty"`
	URL                string     `json:"url"`
	ContentID          *string    `json:"contentId,omitempty"`
	ParentContentID    *string    `json:"parentContentId,omitempty"`
	ProductName        string     `json:"productName"`
	Brand              *string    `json:"brand,omitempty"`
	Category           *string    `json:"category,omitempty"`
	Description        *string    `json:"description,omitempty"`
	CurrentPrice       float64    `json:"currentPrice"`
	OldPrice           *float64   `json:"oldPrice,omitempty"`
	Discount           *float64   `json:"discount,omitempty"`
	DiscountPercentage *float64   `json:"discountPercentage,omitempty"`
	UnitPrice          *string    `json:"unitPrice,omitempty"`
	PriceFormatted     *string    `json:"priceFormatted,omitempty"`
	OldPriceFormatted  *string    `json:"oldPriceFormatted,omitempty"`
	PriceFrequency     *string    `json:"priceFrequency,omitempty"`
	PriceConditions    *string    `json:"priceConditions,omitempty"`
	ImageURL           *string    `json:"imageUrl,omitempty"`
	ImageAlt           *string    `json:"imageAlt,omitempty"`
	ImageTitle         *string    `json:"imageTitle,omitempty"`
	ValidFrom          *time.Time `json:"validFrom,omitempty"`
	ValidUntil         *time.Time `json:"validUntil,omitempty"`
	PageNumber         *int       `json:"pageNumber,omitempty"`
	PublisherID        *string    `json:"publisherId,omitempty"`
	ScrapedAt          time.Time  `json:"scrapedAt"`
}

// Store is a persisted store row.
type Store struct {
	ID           string   `json:"id"`
	RetailerID   string   `json:"retailerId"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	PostalCode   string   `json:"postalCode"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Phone        *string  `json:"phone,omitempty"`
	OpeningHours *string  `json:"openingHours,omitempty"`
}

// Discount derives the absolute and percentage discount of an offer. Values
// are rounded to cents and hundredths of a percent. Both are nil unless
// old > current > 0 and both rounded values stay positive.
func Discount(current float64, old *float64) (discount, percentage *float64) {
	if old == nil || current <= 0 || *old <= current {
		return nil, nil
	}
	d := round2(*old - current)
	p := round2((*old - current) / *old * 100)
	if d <= 0 || p <= 0 {
		return nil, nil
	}
	return Ptr(d), Ptr(p)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
