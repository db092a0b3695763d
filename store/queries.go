package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mehran282/off-board-v1/models"
)

const (
	retailerColumns = `id, name, category, logo_url, scraped_at, created_at, updated_at`
	flyerColumns    = `id, retailer_id, title, pages, valid_from, valid_until, published_from, published_until,
		url, content_id, pdf_url, thumbnail_url, scraped_at`
	productColumns = `id, name, brand, category, description, image_url`
	offerColumns   = `id, retailer_id, flyer_id, product_id, url, content_id, parent_content_id, product_name,
		brand, category, description, current_price, old_price, discount, discount_percentage, unit_price,
		price_formatted, old_price_formatted, price_frequency, price_conditions, image_url, image_alt,
		image_title, valid_from, valid_until, page_number, publisher_id, scraped_at`
	storeColumns = `id, retailer_id, address, city, postal_code, latitude, longitude, phone, opening_hours`
)

// Key is the identity of a persisted flyer or offer.
type Key struct {
	URL       string
	ContentID *string
}

func utc(t *time.Time) {
	if t != nil {
		*t = t.UTC()
	}
}

// Retailers

func scanRetailer(row Row) (models.Retailer, error) {
	var r models.Retailer
	err := scan(row, "retailer", &r.ID, &r.Name, &r.Category, &r.LogoURL, &r.ScrapedAt, &r.CreatedAt, &r.UpdatedAt)
	utc(&r.ScrapedAt)
	utc(&r.CreatedAt)
	utc(&r.UpdatedAt)
	return r, err
}

// FindRetailer returns the retailer with the given id.
func FindRetailer(ctx context.Context, q Querier, id string) (models.Retailer, error) {
	return scanRetailer(q.QueryRow(ctx, `SELECT `+retailerColumns+` FROM retailers WHERE id = ?`, id))
}

// FindRetailerByName returns the retailer with the given unique name.
func FindRetailerByName(ctx context.Context, q Querier, name string) (models.Retailer, error) {
	return scanRetailer(q.QueryRow(ctx, `SELECT `+retailerColumns+` FROM retailers WHERE name = ?`, name))
}

func InsertRetailer(ctx context.Context, q Querier, r models.Retailer) error {
	_, err := q.Exec(ctx,
		`INSERT INTO retailers (`+retailerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Category, r.LogoURL, r.ScrapedAt.UTC(), r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "store: insert retailer %q", r.Name)
}

func UpdateRetailerLogo(ctx context.Context, q Querier, id, logo string, now time.Time) error {
	n, err := q.Exec(ctx,
		`UPDATE retailers SET logo_url = ?, scraped_at = ?, updated_at = ? WHERE id = ?`,
		logo, now.UTC(), now.UTC(), id,
	)
	return affected(n, err, "update retailer logo")
}

// Flyers

func scanFlyer(row Row) (models.Flyer, error) {
	var f models.Flyer
	err := scan(row, "flyer",
		&f.ID, &f.RetailerID, &f.Title, &f.Pages, &f.ValidFrom, &f.ValidUntil, &f.PublishedFrom, &f.PublishedUntil,
		&f.URL, &f.ContentID, &f.PDFURL, &f.ThumbnailURL, &f.ScrapedAt,
	)
	utc(&f.ValidFrom)
	utc(&f.ValidUntil)
	utc(f.PublishedFrom)
	utc(f.PublishedUntil)
	utc(&f.ScrapedAt)
	return f, err
}

func FindFlyerByURL(ctx context.Context, q Querier, url string) (models.Flyer, error) {
	return scanFlyer(q.QueryRow(ctx, `SELECT `+flyerColumns+` FROM flyers WHERE url = ?`, url))
}

// FindFlyerByContentID returns the most recently scraped flyer carrying id.
func FindFlyerByContentID(ctx context.Context, q Querier, id string) (models.Flyer, error) {
	return scanFlyer(q.QueryRow(ctx,
		`SELECT `+flyerColumns+` FROM flyers WHERE content_id = ? ORDER BY scraped_at DESC LIMIT 1`, id))
}

func FindFlyer(ctx context.Context, q Querier, id string) (models.Flyer, error) {
	return scanFlyer(q.QueryRow(ctx, `SELECT `+flyerColumns+` FROM flyers WHERE id = ?`, id))
}

func InsertFlyer(ctx context.Context, q Querier, f models.Flyer) error {
	_, err := q.Exec(ctx,
		`INSERT INTO flyers (`+flyerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RetailerID, f.Title, f.Pages, f.ValidFrom.UTC(), f.ValidUntil.UTC(), utcPtr(f.PublishedFrom),
		utcPtr(f.PublishedUntil), f.URL, f.ContentID, f.PDFURL, f.ThumbnailURL, f.ScrapedAt.UTC(),
	)
	return eris.Wrapf(err, "store: insert flyer %s", f.URL)
}

// UpdateFlyer overwrites title, page count and validity of the flyer f.ID.
// Optional fields are only replaced by non-nil values.
func UpdateFlyer(ctx context.Context, q Querier, f models.Flyer) error {
	n, err := q.Exec(ctx, `UPDATE flyers SET
		title = ?, pages = ?, valid_from = ?, valid_until = ?,
		published_from = COALESCE(?, published_from),
		published_until = COALESCE(?, published_until),
		content_id = COALESCE(?, content_id),
		pdf_url = COALESCE(?, pdf_url),
		thumbnail_url = COALESCE(?, thumbnail_url),
		scraped_at = ?
		WHERE id = ?`,
		f.Title, f.Pages, f.ValidFrom.UTC(), f.ValidUntil.UTC(),
		utcPtr(f.PublishedFrom), utcPtr(f.PublishedUntil), f.ContentID, f.PDFURL, f.ThumbnailURL,
		f.ScrapedAt.UTC(), f.ID,
	)
	return affected(n, err, "update flyer")
}

// Products

func scanProduct(row Row) (models.Product, error) {
	var p models.Product
	err := scan(row, "product", &p.ID, &p.Name, &p.Brand, &p.Category, &p.Description, &p.ImageURL)
	return p, err
}

// FindProduct matches name exactly and brand null-aware: a nil brand only
// matches products without a brand.
func FindProduct(ctx context.Context, q Querier, name string, brand *string) (models.Product, error) {
	b := ""
	if brand != nil {
		b = *brand
	}
	return scanProduct(q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE name = ? AND COALESCE(brand, '') = ? LIMIT 1`, name, b))
}

func InsertProduct(ctx context.Context, q Querier, p models.Product) error {
	_, err := q.Exec(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Brand, p.Category, p.Description, p.ImageURL,
	)
	return eris.Wrapf(err, "store: insert product %q", p.Name)
}

// Offers

func scanOffer(row Row) (models.Offer, error) {
	var o models.Offer
	err := scan(row, "offer",
		&o.ID, &o.RetailerID, &o.FlyerID, &o.ProductID, &o.URL, &o.ContentID, &o.ParentContentID, &o.ProductName,
		&o.Brand, &o.Category, &o.Description, &o.CurrentPrice, &o.OldPrice, &o.Discount, &o.DiscountPercentage,
		&o.UnitPrice, &o.PriceFormatted, &o.OldPriceFormatted, &o.PriceFrequency, &o.PriceConditions, &o.ImageURL,
		&o.ImageAlt, &o.ImageTitle, &o.ValidFrom, &o.ValidUntil, &o.PageNumber, &o.PublisherID, &o.ScrapedAt,
	)
	utc(o.ValidFrom)
	utc(o.ValidUntil)
	utc(&o.ScrapedAt)
	return o, err
}

func FindOfferByURL(ctx context.Context, q Querier, url string) (models.Offer, error) {
	return scanOffer(q.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE url = ?`, url))
}

// FindOfferByContentID returns the most recently scraped offer carrying id.
func FindOfferByContentID(ctx context.Context, q Querier, id string) (models.Offer, error) {
	return scanOffer(q.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE content_id = ? ORDER BY scraped_at DESC LIMIT 1`, id))
}

func InsertOffer(ctx context.Context, q Querier, o models.Offer) error {
	_, err := q.Exec(ctx,
		`INSERT INTO offers (`+offerColumns+`) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RetailerID, o.FlyerID, o.ProductID, o.URL, o.ContentID, o.ParentContentID, o.ProductName,
		o.Brand, o.Category, o.Description, o.CurrentPrice, o.OldPrice, o.Discount, o.DiscountPercentage,
		o.UnitPrice, o.PriceFormatted, o.OldPriceFormatted, o.PriceFrequency, o.PriceConditions, o.ImageURL,
		o.ImageAlt, o.ImageTitle, utcPtr(o.ValidFrom), utcPtr(o.ValidUntil), o.PageNumber, o.PublisherID,
		o.ScrapedAt.UTC(),
	)
	return eris.Wrapf(err, "store: insert offer %s", o.URL)
}

// UpdateOffer overwrites the product name, price fields and product link of
// offer o.ID. A flyer link is only set when none is stored; the remaining
// optional fields are only replaced by non-nil values.
func UpdateOffer(ctx context.Context, q Querier, o models.Offer) error {
	n, err := q.Exec(ctx, `UPDATE offers SET
		product_name = ?, current_price = ?, old_price = ?, discount = ?, discount_percentage = ?,
		product_id = ?,
		flyer_id = COALESCE(flyer_id, ?),
		content_id = COALESCE(?, content_id),
		parent_content_id = COALESCE(?, parent_content_id),
		brand = COALESCE(?, brand),
		category = COALESCE(?, category),
		description = COALESCE(?, description),
		unit_price = COALESCE(?, unit_price),
		price_formatted = COALESCE(?, price_formatted),
		old_price_formatted = COALESCE(?, old_price_formatted),
		price_frequency = COALESCE(?, price_frequency),
		price_conditions = COALESCE(?, price_conditions),
		image_url = COALESCE(?, image_url),
		image_alt = COALESCE(?, image_alt),
		image_title = COALESCE(?, image_title),
		valid_from = COALESCE(?, valid_from),
		valid_until = COALESCE(?, valid_until),
		page_number = COALESCE(?, page_number),
		publisher_id = COALESCE(?, publisher_id),
		scraped_at = ?
		WHERE id = ?`,
		o.ProductName, o.CurrentPrice, o.OldPrice, o.Discount, o.DiscountPercentage,
		o.ProductID,
		o.FlyerID,
		o.ContentID,
		o.ParentContentID,
		o.Brand,
		o.Category,
		o.Description,
		o.UnitPrice,
		o.PriceFormatted,
		o.OldPriceFormatted,
		o.PriceFrequency,
		o.PriceConditions,
		o.ImageURL,
		o.ImageAlt,
		o.ImageTitle,
		utcPtr(o.ValidFrom),
		utcPtr(o.ValidUntil),
		o.PageNumber,
		o.PublisherID,
		o.ScrapedAt.UTC(), o.ID,
	)
	return affected(n, err, "update offer")
}

// Stores

func scanStore(row Row) (models.Store, error) {
	var s models.Store
	err := scan(row, "store",
		&s.ID, &s.RetailerID, &s.Address, &s.City, &s.PostalCode, &s.Latitude, &s.Longitude, &s.Phone, &s.OpeningHours,
	)
	return s, err
}

// FindStore returns the store identified by retailer and address.
func FindStore(ctx context.Context, q Querier, retailerID, address string) (models.Store, error) {
	return scanStore(q.QueryRow(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE retailer_id = ? AND address = ?`, retailerID, address))
}

func InsertStore(ctx context.Context, q Querier, s models.Store) error {
	_, err := q.Exec(ctx,
		`INSERT INTO stores (`+storeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.RetailerID, s.Address, s.City, s.PostalCode, s.Latitude, s.Longitude, s.Phone, s.OpeningHours,
	)
	return eris.Wrapf(err, "store: insert store %q", s.Address)
}

// UpdateStore overwrites every mutable field of store s.ID, nulls included.
func UpdateStore(ctx context.Context, q Querier, s models.Store) error {
	n, err := q.Exec(ctx, `UPDATE stores SET
		city = ?, postal_code = ?, latitude = ?, longitude = ?, phone = ?, opening_hours = ?
		WHERE id = ?`,
		s.City, s.PostalCode, s.Latitude, s.Longitude, s.Phone, s.OpeningHours, s.ID,
	)
	return affected(n, err, "update store")
}

// Identity keys and totals

// FlyerKeys lists the URL and content id of every stored flyer.
func FlyerKeys(ctx context.Context, q Querier) ([]Key, error) {
	return keys(ctx, q, `SELECT url, content_id FROM flyers`)
}

// OfferKeys lists the URL and content id of every stored offer.
func OfferKeys(ctx context.Context, q Querier) ([]Key, error) {
	return keys(ctx, q, `SELECT url, content_id FROM offers`)
}

func keys(ctx context.Context, q Querier, query string) ([]Key, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "store: list keys")
	}
	defer rows.Close() //nolint:errcheck

	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.URL, &k.ContentID); err != nil {
			return nil, eris.Wrap(err, "store: scan key")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate keys")
}

// Counts returns the number of rows per entity table.
func Counts(ctx context.Context, q Querier) (models.Totals, error) {
	var t models.Totals
	err := scan(q.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM retailers),
		(SELECT COUNT(*) FROM flyers),
		(SELECT COUNT(*) FROM offers),
		(SELECT COUNT(*) FROM products),
		(SELECT COUNT(*) FROM stores)`),
		"totals", &t.Retailers, &t.Flyers, &t.Offers, &t.Products, &t.Stores)
	return t, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func affected(n int64, err error, what string) error {
	if err != nil {
		return eris.Wrap(err, "store: "+what)
	}
	if n == 0 {
		return eris.Wrap(ErrNotFound, what)
	}
	return nil
}
