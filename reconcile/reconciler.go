// Package reconcile maps validated records onto the relational model.
//
// Every record is written in its own transaction. Retailer and product ids
// resolved inside a transaction are staged and only enter the run caches once
// that transaction commits, so a rolled back record never leaves a cached id
// pointing at a row that does not exist.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

const defaultCacheSize = 4096

var (
	// ErrMissingRetailer is returned for a store record without a retailer.
	ErrMissingRetailer = eris.New("reconcile: store has no retailer")
	// ErrMissingAddress is returned for a store record without an address.
	ErrMissingAddress = eris.New("reconcile: store has no address")
	// ErrIntegrity wraps unique constraint violations.
	ErrIntegrity = eris.New("reconcile: integrity violation")
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCacheSize bounds each id cache to n entries.
func WithCacheSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithDefaultCategory sets the category of synthesized retailers.
func WithDefaultCategory(c string) Option {
	return func(r *Reconciler) {
		if c = strings.TrimSpace(c); c != "" {
			r.category = c
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler is the upsert engine. It owns the retailer and product id
// caches for its lifetime and must not be shared between concurrent runs.
type Reconciler struct {
	db        store.DB
	retailers *lru.Cache[string, string]
	products  *lru.Cache[productKey, string]
	cacheSize int
	category  string
	now       func() time.Time
	newID     func() string

	// retailerLookups counts name lookups that reached the database.
	retailerLookups int
}

// New returns a Reconciler writing to db.
func New(db store.DB, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		db:        db,
		cacheSize: defaultCacheSize,
		category:  models.DefaultCategory,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	var err error
	if r.retailers, err = lru.New[string, string](r.cacheSize); err != nil {
		return nil, eris.Wrap(err, "reconcile: retailer cache")
	}
	if r.products, err = lru.New[productKey, string](r.cacheSize); err != nil {
		return nil, eris.Wrap(err, "reconcile: product cache")
	}
	return r, nil
}

// Persist writes rec in its own transaction and reports whether a row was
// created or updated. Unique violations are returned wrapping ErrIntegrity.
func (r *Reconciler) Persist(ctx context.Context, rec models.Record) (models.Outcome, error) {
	var (
		out models.Outcome
		tx  *txn
	)
	err := r.db.InTx(ctx, func(q store.Querier) error {
		tx = &txn{Reconciler: r, q: q, stagedRetailers: map[string]string{}, stagedProducts: map[productKey]string{}}
		var err error
		out, err = tx.persist(ctx, rec)
		return err
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return out, eris.Wrapf(ErrIntegrity, "%s %s: %v", rec.Kind(), identity(rec), err)
		}
		return out, eris.Wrapf(err, "reconcile: persist %s %s", rec.Kind(), identity(rec))
	}
	tx.commit()
	return out, nil
}

// Close drops the run caches.
func (r *Reconciler) Close() error {
	r.retailers.Purge()
	r.products.Purge()
	return nil
}

func identity(rec models.Record) string {
	switch v := rec.(type) {
	case models.Keyed:
		url, _ := v.Keys()
		return url
	case models.RetailerRecord:
		return v.Name
	case models.StoreRecord:
		return v.Retailer + "/" + v.Address
	}
	return ""
}

// txn carries one record's transaction and the cache entries it produced.
type txn struct {
	*Reconciler
	q               store.Querier
	stagedRetailers map[string]string
	stagedProducts  map[productKey]string
}

func (t *txn) commit() {
	for name, id := range t.stagedRetailers {
		t.Reconciler.retailers.Add(name, id)
	}
	for key, id := range t.stagedProducts {
		t.Reconciler.products.Add(key, id)
	}
}

func (t *txn) persist(ctx context.Context, rec models.Record) (models.Outcome, error) {
	switch v := rec.(type) {
	case models.RetailerRecord:
		return t.upsertRetailer(ctx, v)
	case *models.RetailerRecord:
		return t.upsertRetailer(ctx, *v)
	case models.FlyerRecord:
		return t.upsertFlyer(ctx, v)
	case *models.FlyerRecord:
		return t.upsertFlyer(ctx, *v)
	case models.OfferRecord:
		return t.upsertOffer(ctx, v)
	case *models.OfferRecord:
		return t.upsertOffer(ctx, *v)
	case models.StoreRecord:
		return t.upsertStore(ctx, v)
	case *models.StoreRecord:
		return t.upsertStore(ctx, *v)
	}
	return models.Outcome{}, eris.Errorf("reconcile: unsupported record %T", rec)
}

// resolveRetailer returns the id of the retailer called name, consulting the
// caches before the database and creating the row when it does not exist.
func (t *txn) resolveRetailer(ctx context.Context, name, category string, logo *string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if id, ok := t.stagedRetailers[name]; ok {
		return id, false, nil
	}
	if id, ok := t.Reconciler.retailers.Get(name); ok {
		return id, false, nil
	}

	t.retailerLookups++
	existing, err := store.FindRetailerByName(ctx, t.q, name)
	switch {
	case err == nil:
		t.stagedRetailers[name] = existing.ID
		return existing.ID, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return "", false, err
	}

	if category = strings.TrimSpace(category); category == "" {
		category = t.category
	}
	now := t.now().UTC()
	created := models.Retailer{
		ID: t.newID(), Name: name, Category: category, LogoURL: logo,
		ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.InsertRetailer(ctx, t.q, created); err != nil {
		return "", false, err
	}
	zap.L().Debug("reconcile: created retailer", zap.String("retailer", name), zap.String("id", created.ID))
	t.stagedRetailers[name] = created.ID
	return created.ID, true, nil
}

func (t *txn) upsertRetailer(ctx context.Context, rec models.RetailerRecord) (models.Outcome, error) {
	out := models.Outcome{Kind: models.KindRetailer}
	id, created, err := t.resolveRetailer(ctx, rec.Name, rec.Category, rec.LogoURL)
	if err != nil {
		return out, err
	}
	out.ID, out.Created = id, created
	if created || rec.LogoURL == nil {
		return out, nil
	}

	current, err := store.FindRetailer(ctx, t.q, id)
	if err != nil {
		return out, err
	}
	if current.LogoURL != nil && *current.LogoURL == *rec.LogoURL {
		return out, nil
	}
	if err := store.UpdateRetailerLogo(ctx, t.q, id, *rec.LogoURL, t.now()); err != nil {
		return out, err
	}
	out.Updated = true
	return out, nil
}

func (t *txn) upsertFlyer(ctx context.Context, rec models.FlyerRecord) (models.Outcome, error) {
	out := models.Outcome{Kind: models.KindFlyer}
	row := models.Flyer{
		Title:          rec.Title,
		Pages:          rec.Pages,
		ValidFrom:      rec.ValidFrom,
		ValidUntil:     rec.ValidUntil,
		PublishedFrom:  rec.PublishedFrom,
		PublishedUntil: rec.PublishedUntil,
		URL:            rec.URL,
		ContentID:      rec.ContentID,
		PDFURL:         rec.PDFURL,
		ThumbnailURL:   rec.ThumbnailURL,
		ScrapedAt:      t.now().UTC(),
	}

	// A matched flyer keeps its retailer.
	existing, err := t.matchFlyer(ctx, rec.URL, rec.ContentID)
	switch {
	case err == nil:
		row.ID, row.RetailerID = existing.ID, existing.RetailerID
		if err := store.UpdateFlyer(ctx, t.q, row); err != nil {
			return out, err
		}
		out.ID, out.Updated = row.ID, true
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return out, err
	}

	if row.RetailerID, _, err = t.resolveRetailer(ctx, rec.Retailer, "", nil); err != nil {
		return out, err
	}
	row.ID = t.newID()
	if err := store.InsertFlyer(ctx, t.q, row); err != nil {
		return out, err
	}
	out.ID, out.Created = row.ID, true
	return out, nil
}

// matchFlyer looks a flyer up by URL, then by content id.
func (t *txn) matchFlyer(ctx context.Context, url string, contentID *string) (models.Flyer, error) {
	f, err := store.FindFlyerByURL(ctx, t.q, url)
	if err == nil || !errors.Is(err, store.ErrNotFound) || contentID == nil {
		return f, err
	}
	return store.FindFlyerByContentID(ctx, t.q, *contentID)
}

// resolveFlyer finds the flyer an offer belongs to. The parent content id
// takes precedence over a flyer id carried by the record.
func (t *txn) resolveFlyer(ctx context.Context, rec models.OfferRecord) (*string, error) {
	var (
		f   models.Flyer
		err error
	)
	switch {
	case rec.ParentContentID != nil:
		f, err = store.FindFlyerByContentID(ctx, t.q, *rec.ParentContentID)
	case rec.FlyerID != nil:
		f, err = store.FindFlyer(ctx, t.q, *rec.FlyerID)
	default:
		return nil, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f.ID, nil
}

// productKey identifies a product in the run caches. A nil brand and an
// empty brand are the same product.
type productKey struct {
	name, brand string
}

func newProductKey(name string, brand *string) productKey {
	k := productKey{name: name}
	if brand != nil {
		k.brand = *brand
	}
	return k
}

// resolveProduct returns the product matching the offer's name and brand,
// creating it from the offer's descriptive fields on first sight.
func (t *txn) resolveProduct(ctx context.Context, rec models.OfferRecord) (string, error) {
	key := newProductKey(rec.ProductName, rec.Brand)
	if id, ok := t.stagedProducts[key]; ok {
		return id, nil
	}
	if id, ok := t.Reconciler.products.Get(key); ok {
		return id, nil
	}

	existing, err := store.FindProduct(ctx, t.q, rec.ProductName, rec.Brand)
	switch {
	case err == nil:
		t.stagedProducts[key] = existing.ID
		return existing.ID, nil
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	p := models.Product{
		ID:          t.newID(),
		Name:        rec.ProductName,
		Brand:       rec.Brand,
		Category:    rec.Category,
		Description: rec.Description,
		ImageURL:    rec.ImageURL,
	}
	if err := store.InsertProduct(ctx, t.q, p); err != nil {
		return "", err
	}
	t.stagedProducts[key] = p.ID
	return p.ID, nil
}

func (t *txn) upsertOffer(ctx context.Context, rec models.OfferRecord) (models.Outcome, error) {
	out := models.Outcome{Kind: models.KindOffer}
	flyerID, err := t.resolveFlyer(ctx, rec)
	if err != nil {
		return out, err
	}
	productID, err := t.resolveProduct(ctx, rec)
	if err != nil {
		return out, err
	}

	discount, percentage := models.Discount(rec.CurrentPrice, rec.OldPrice)
	row := models.Offer{
		FlyerID:            flyerID,
		ProductID:          &productID,
		URL:                rec.URL,
		ContentID:          rec.ContentID,
		ParentContentID:    rec.ParentContentID,
		ProductName:        rec.ProductName,
		Brand:              rec.Brand,
		Category:           rec.Category,
		Description:        rec.Description,
		CurrentPrice:       rec.CurrentPrice,
		OldPrice:           rec.OldPrice,
		Discount:           discount,
		DiscountPercentage: percentage,
		UnitPrice:          rec.UnitPrice,
		PriceFormatted:     rec.PriceFormatted,
		OldPriceFormatted:  rec.OldPriceFormatted,
		PriceFrequency:     rec.PriceFrequency,
		PriceConditions:    rec.PriceConditions,
		ImageURL:           rec.ImageURL,
		ImageAlt:           rec.ImageAlt,
		ImageTitle:         rec.ImageTitle,
		ValidFrom:          rec.ValidFrom,
		ValidUntil:         rec.ValidUntil,
		PageNumber:         rec.PageNumber,
		PublisherID:        rec.PublisherID,
		ScrapedAt:          t.now().UTC(),
	}

	existing, err := t.matchOffer(ctx, rec.URL, rec.ContentID)
	switch {
	case err == nil:
		row.ID, row.RetailerID = existing.ID, existing.RetailerID
		if err := store.UpdateOffer(ctx, t.q, row); err != nil {
			return out, err
		}
		out.ID, out.Updated = row.ID, true
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return out, err
	}

	if row.RetailerID, _, err = t.resolveRetailer(ctx, rec.Retailer, "", nil); err != nil {
		return out, err
	}
	row.ID = t.newID()
	if err := store.InsertOffer(ctx, t.q, row); err != nil {
		return out, err
	}
	out.ID, out.Created = row.ID, true
	return out, nil
}

func (t *txn) matchOffer(ctx context.Context, url string, contentID *string) (models.Offer, error) {
	o, err := store.FindOfferByURL(ctx, t.q, url)
	if err == nil || !errors.Is(err, store.ErrNotFound) || contentID == nil {
		return o, err
	}
	return store.FindOfferByContentID(ctx, t.q, *contentID)
}

func (t *txn) upsertStore(ctx context.Context, rec models.StoreRecord) (models.Outcome, error) {
	out := models.Outcome{Kind: models.KindStore}
	if strings.TrimSpace(rec.Retailer) == "" {
		return out, ErrMissingRetailer
	}
	if strings.TrimSpace(rec.Address) == "" {
		return out, ErrMissingAddress
	}
	retailerID, _, err := t.resolveRetailer(ctx, rec.Retailer, "", nil)
	if err != nil {
		return out, err
	}

	row := models.Store{
		RetailerID:   retailerID,
		Address:      rec.Address,
		City:         rec.City,
		PostalCode:   rec.PostalCode,
		Latitude:     rec.Latitude,
		Longitude:    rec.Longitude,
		Phone:        rec.Phone,
		OpeningHours: rec.OpeningHours,
	}
	existing, err := store.FindStore(ctx, t.q, retailerID, rec.Address)
	switch {
	case err == nil:
		row.ID = existing.ID
		if err := store.UpdateStore(ctx, t.q, row); err != nil {
			return out, err
		}
		out.ID, out.Updated = row.ID, true
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return out, err
	}

	row.ID = t.newID()
	if err := store.InsertStore(ctx, t.q, row); err != nil {
		return out, err
	}
	out.ID, out.Created = row.ID, true
	return out, nil
}
