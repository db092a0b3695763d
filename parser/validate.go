// Package parser holds the validation gate and the value coercion helpers
// shared by extraction.
package parser

import (
	"fmt"
	"strings"

	"github.com/mehran282/off-board-v1/models"
)

// ValidationError reports the first constraint a record violates.
type ValidationError struct {
	Kind   models.Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Reason)
}

// Label is a short metric label such as "flyer_pages".
func (e *ValidationError) Label() string {
	return string(e.Kind) + "_" + e.Field
}

func invalid(kind models.Kind, field, reason string) error {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Validate dispatches rec to the validator of its kind.
func Validate(rec models.Record) error {
	switch r := rec.(type) {
	case models.RetailerRecord:
		return ValidateRetailer(r)
	case *models.RetailerRecord:
		return ValidateRetailer(*r)
	case models.FlyerRecord:
		return ValidateFlyer(r)
	case *models.FlyerRecord:
		return ValidateFlyer(*r)
	case models.OfferRecord:
		return ValidateOffer(r)
	case *models.OfferRecord:
		return ValidateOffer(*r)
	case models.StoreRecord:
		return ValidateStore(r)
	case *models.StoreRecord:
		return ValidateStore(*r)
	case nil:
		return fmt.Errorf("record is nil")
	}
	return fmt.Errorf("unsupported record type %T", rec)
}

// ValidateRetailer requires a name and a category.
func ValidateRetailer(r models.RetailerRecord) error {
	if blank(r.Name) {
		return invalid(models.KindRetailer, "name", "is empty")
	}
	if blank(r.Category) {
		return invalid(models.KindRetailer, "category", "is empty")
	}
	return nil
}

// ValidateFlyer requires title, url, retailer, a positive page count and an
// ordered validity window.
func ValidateFlyer(f models.FlyerRecord) error {
	switch {
	case blank(f.Title):
		return invalid(models.KindFlyer, "title", "is empty")
	case blank(f.URL):
		return invalid(models.KindFlyer, "url", "is empty")
	case blank(f.Retailer):
		return invalid(models.KindFlyer, "retailer", "is empty")
	case f.Pages <= 0:
		return invalid(models.KindFlyer, "pages", fmt.Sprintf("must be positive, got %d", f.Pages))
	case f.ValidUntil.Before(f.ValidFrom):
		return invalid(models.KindFlyer, "validity", "ends before it starts")
	}
	return nil
}

// ValidateOffer requires product name, url, retailer and a positive price.
func ValidateOffer(o models.OfferRecord) error {
	switch {
	case blank(o.ProductName):
		return invalid(models.KindOffer, "product_name", "is empty")
	case blank(o.URL):
		return invalid(models.KindOffer, "url", "is empty")
	case blank(o.Retailer):
		return invalid(models.KindOffer, "retailer", "is empty")
	case o.CurrentPrice <= 0:
		return invalid(models.KindOffer, "current_price", fmt.Sprintf("must be positive, got %v", o.CurrentPrice))
	case o.OldPrice != nil && *o.OldPrice < 0:
		return invalid(models.KindOffer, "old_price", "is negative")
	case o.ValidFrom != nil && o.ValidUntil != nil && o.ValidUntil.Before(*o.ValidFrom):
		return invalid(models.KindOffer, "validity", "ends before it starts")
	}
	return nil
}

// ValidateStore requires retailer, address, city and postal code.
func ValidateStore(s models.StoreRecord) error {
	switch {
	case blank(s.Retailer):
		return invalid(models.KindStore, "retailer", "is empty")
	case blank(s.Address):
		return invalid(models.KindStore, "address", "is empty")
	case blank(s.City):
		return invalid(models.KindStore, "city", "is empty")
	case blank(s.PostalCode):
		return invalid(models.KindStore, "postal_code", "is empty")
	}
	return nil
}
