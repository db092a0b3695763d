package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

var (
	validFrom  = time.Date(2025, 11, 16, 23, 0, 0, 0, time.UTC)
	validUntil = time.Date(2025, 11, 22, 22, 0, 0, 0, time.UTC)
)

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *store.SQLite) {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, db.Migrate(context.Background()))

	r, err := New(db, opts...)
	require.NoError(t, err)
	return r, db
}

// sequentialIDs makes generated ids predictable.
func sequentialIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func reweFlyer() models.FlyerRecord {
	return models.FlyerRecord{
		URL:        "https://site/Prospekte/abc",
		Title:      "REWE Prospekt",
		Pages:      22,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Retailer:   "REWE",
	}
}

func count(t *testing.T, db store.Querier, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), query).Scan(&n))
	return n
}

func TestPersistFlyerCreatesRetailerThenUpdates(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	out, err := r.Persist(ctx, reweFlyer())
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.False(t, out.Updated)
	assert.Equal(t, models.KindFlyer, out.Kind)

	retailer, err := store.FindRetailerByName(ctx, db, "REWE")
	require.NoError(t, err)
	assert.Equal(t, "General", retailer.Category)

	flyer, err := store.FindFlyerByURL(ctx, db, "https://site/Prospekte/abc")
	require.NoError(t, err)
	assert.Equal(t, retailer.ID, flyer.RetailerID)
	assert.Equal(t, 22, flyer.Pages)

	again := reweFlyer()
	again.Pages = 23
	out2, err := r.Persist(ctx, again)
	require.NoError(t, err)
	assert.False(t, out2.Created)
	assert.True(t, out2.Updated)
	assert.Equal(t, out.ID, out2.ID)
	assert.Equal(t, 1, r.retailerLookups, "a matched flyer keeps its retailer without a lookup")

	flyer, err = store.FindFlyerByURL(ctx, db, "https://site/Prospekte/abc")
	require.NoError(t, err)
	assert.Equal(t, 23, flyer.Pages)
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM flyers`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM retailers`))
}

func TestPersistFlyerMatchesByContentID(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	first := reweFlyer()
	first.ContentID = models.Ptr("abc")
	_, err := r.Persist(ctx, first)
	require.NoError(t, err)

	moved := reweFlyer()
	moved.URL = "https://site/Prospekte/rewe-abc"
	moved.ContentID = models.Ptr("abc")
	moved.Title = "REWE Wochenprospekt"
	out, err := r.Persist(ctx, moved)
	require.NoError(t, err)
	assert.True(t, out.Updated)

	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM flyers`))
	f, err := store.FindFlyerByContentID(ctx, db, "abc")
	require.NoError(t, err)
	assert.Equal(t, "REWE Wochenprospekt", f.Title)
}

func TestPersistFlyerFillForward(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	full := reweFlyer()
	full.ContentID = models.Ptr("abc")
	full.PDFURL = models.Ptr("https://cdn/abc.pdf")
	full.ThumbnailURL = models.Ptr("https://cdn/abc/1.jpg")
	full.PublishedFrom = models.Ptr(validFrom.Add(-24 * time.Hour))
	_, err := r.Persist(ctx, full)
	require.NoError(t, err)

	_, err = r.Persist(ctx, reweFlyer())
	require.NoError(t, err)

	f, err := store.FindFlyerByURL(ctx, db, full.URL)
	require.NoError(t, err)
	require.NotNil(t, f.ContentID)
	assert.Equal(t, "abc", *f.ContentID)
	require.NotNil(t, f.PDFURL)
	assert.Equal(t, "https://cdn/abc.pdf", *f.PDFURL)
	require.NotNil(t, f.ThumbnailURL)
	assert.Equal(t, "https://cdn/abc/1.jpg", *f.ThumbnailURL)
	require.NotNil(t, f.PublishedFrom)
	assert.True(t, full.PublishedFrom.Equal(*f.PublishedFrom))
}

func TestPersistOfferDiscount(t *testing.T) {
	tests := []struct {
		name         string
		current      float64
		old          *float64
		wantDiscount *float64
		wantPercent  *float64
	}{
		{"genuine reduction", 6.49, models.Ptr(8.99), models.Ptr(2.50), models.Ptr(27.81)},
		{"old price lower", 6.49, models.Ptr(5.00), nil, nil},
		{"no old price", 6.49, nil, nil, nil},
		{"sub-cent reduction", 100, models.Ptr(100.004), nil, nil},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, db := newTestReconciler(t)
			ctx := context.Background()
			url := fmt.Sprintf("https://site/Angebote/%d", i)

			_, err := r.Persist(ctx, models.OfferRecord{
				URL: url, ProductName: "Kaffee", CurrentPrice: tt.current, OldPrice: tt.old, Retailer: "REWE",
			})
			require.NoError(t, err)

			o, err := store.FindOfferByURL(ctx, db, url)
			require.NoError(t, err)
			if tt.wantDiscount == nil {
				assert.Nil(t, o.Discount)
				assert.Nil(t, o.DiscountPercentage)
				return
			}
			require.NotNil(t, o.Discount)
			require.NotNil(t, o.DiscountPercentage)
			assert.InDelta(t, *tt.wantDiscount, *o.Discount, 0.001)
			assert.InDelta(t, *tt.wantPercent, *o.DiscountPercentage, 0.001)
			assert.InDelta(t, *o.OldPrice-o.CurrentPrice, *o.Discount, 0.001)
		})
	}
}

func TestPersistOfferLinksFlyerAndProduct(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	flyer := reweFlyer()
	flyer.ContentID = models.Ptr("abc")
	fOut, err := r.Persist(ctx, flyer)
	require.NoError(t, err)

	offer := models.OfferRecord{
		URL: "https://site/Angebote/1", ContentID: models.Ptr("o1"), ParentContentID: models.Ptr("abc"),
		ProductName: "Kaffee", Brand: models.Ptr("Jacobs"), Category: models.Ptr("Getränke"),
		CurrentPrice: 4.99, Retailer: "REWE",
	}
	_, err = r.Persist(ctx, offer)
	require.NoError(t, err)

	second := offer
	second.URL = "https://site/Angebote/2"
	second.ContentID = models.Ptr("o2")
	_, err = r.Persist(ctx, second)
	require.NoError(t, err)

	o, err := store.FindOfferByURL(ctx, db, offer.URL)
	require.NoError(t, err)
	require.NotNil(t, o.FlyerID)
	assert.Equal(t, fOut.ID, *o.FlyerID)
	require.NotNil(t, o.ProductID)

	p, err := store.FindProduct(ctx, db, "Kaffee", models.Ptr("Jacobs"))
	require.NoError(t, err)
	assert.Equal(t, p.ID, *o.ProductID)
	require.NotNil(t, p.Category)
	assert.Equal(t, "Getränke", *p.Category)
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM products`), "offers with the same name and brand share a product")
}

func TestPersistOfferProductKeyIsUnambiguous(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	for i, pair := range [][2]string{{"a|", "b"}, {"a", "|b"}} {
		_, err := r.Persist(ctx, models.OfferRecord{
			URL:          fmt.Sprintf("https://site/Angebote/%d", i),
			ProductName:  pair[0],
			Brand:        models.Ptr(pair[1]),
			CurrentPrice: 1.99,
			Retailer:     "REWE",
		})
		require.NoError(t, err)
	}

	totals, err := store.Counts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Products)

	first, err := store.FindOfferByURL(ctx, db, "https://site/Angebote/0")
	require.NoError(t, err)
	second, err := store.FindOfferByURL(ctx, db, "https://site/Angebote/1")
	require.NoError(t, err)
	require.NotNil(t, first.ProductID)
	require.NotNil(t, second.ProductID)
	assert.NotEqual(t, *first.ProductID, *second.ProductID)
}

func TestPersistMatchKeepsRetailer(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	flyer := reweFlyer()
	flyer.ContentID = models.Ptr("abc")
	offer := models.OfferRecord{
		URL: "https://site/Angebote/1", ContentID: models.Ptr("o1"),
		ProductName: "Kaffee", CurrentPrice: 4.99, Retailer: "REWE",
	}
	for _, rec := range []models.Record{flyer, offer} {
		_, err := r.Persist(ctx, rec)
		require.NoError(t, err)
	}
	rewe, err := store.FindRetailerByName(ctx, db, "REWE")
	require.NoError(t, err)

	flyer.Retailer = "REWE Markt"
	out, err := r.Persist(ctx, flyer)
	require.NoError(t, err)
	assert.True(t, out.Updated)

	offer.Retailer = "REWE Markt"
	offer.CurrentPrice = 3.99
	out, err = r.Persist(ctx, offer)
	require.NoError(t, err)
	assert.True(t, out.Updated)

	totals, err := store.Counts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Retailers, "no orphan retailer for a renamed match")

	f, err := store.FindFlyerByContentID(ctx, db, "abc")
	require.NoError(t, err)
	assert.Equal(t, rewe.ID, f.RetailerID)
	o, err := store.FindOfferByURL(ctx, db, offer.URL)
	require.NoError(t, err)
	assert.Equal(t, rewe.ID, o.RetailerID)
	assert.InDelta(t, 3.99, o.CurrentPrice, 0.001)
}

func TestPersistOfferUnknownParentLeavesFlyerUnset(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Persist(ctx, models.OfferRecord{
		URL: "https://site/Angebote/1", ParentContentID: models.Ptr("missing"),
		ProductName: "Kaffee", CurrentPrice: 4.99, Retailer: "REWE",
	})
	require.NoError(t, err)

	o, err := store.FindOfferByURL(ctx, db, "https://site/Angebote/1")
	require.NoError(t, err)
	assert.Nil(t, o.FlyerID)
}

func TestPersistOfferFillForwardAndLastWriteWins(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	first := models.OfferRecord{
		URL: "https://site/Angebote/1", ProductName: "Kaffee", CurrentPrice: 5.49, OldPrice: models.Ptr(6.99),
		Description: models.Ptr("500 g"), ImageURL: models.Ptr("https://cdn/kaffee.jpg"), PageNumber: models.Ptr(3),
		Retailer: "REWE",
	}
	_, err := r.Persist(ctx, first)
	require.NoError(t, err)

	second := models.OfferRecord{
		URL: "https://site/Angebote/1", ProductName: "Kaffee Gold", CurrentPrice: 4.99, Retailer: "REWE",
	}
	out, err := r.Persist(ctx, second)
	require.NoError(t, err)
	assert.True(t, out.Updated)

	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM offers`))
	o, err := store.FindOfferByURL(ctx, db, first.URL)
	require.NoError(t, err)
	assert.Equal(t, "Kaffee Gold", o.ProductName)
	assert.InDelta(t, 4.99, o.CurrentPrice, 0.0001)
	assert.Nil(t, o.OldPrice)
	assert.Nil(t, o.DiscountPercentage)
	require.NotNil(t, o.Description)
	assert.Equal(t, "500 g", *o.Description)
	require.NotNil(t, o.ImageURL)
	assert.Equal(t, "https://cdn/kaffee.jpg", *o.ImageURL)
	require.NotNil(t, o.PageNumber)
	assert.Equal(t, 3, *o.PageNumber)

	p, err := store.FindProduct(ctx, db, "Kaffee Gold", nil)
	require.NoError(t, err)
	require.NotNil(t, o.ProductID)
	assert.Equal(t, p.ID, *o.ProductID, "product link follows the latest name")
}

func TestPersistStoreOverwrites(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Persist(ctx, models.StoreRecord{
		Retailer: "Aldi Nord", Address: "Hauptstr. 1", City: "Berlin", PostalCode: "10115",
		Phone: models.Ptr("030 123"),
	})
	require.NoError(t, err)
	out, err := r.Persist(ctx, models.StoreRecord{
		Retailer: "Aldi Nord", Address: "Hauptstr. 1", City: "Berlin Mitte", PostalCode: "10115",
	})
	require.NoError(t, err)
	assert.True(t, out.Updated)

	retailer, err := store.FindRetailerByName(ctx, db, "Aldi Nord")
	require.NoError(t, err)
	s, err := store.FindStore(ctx, db, retailer.ID, "Hauptstr. 1")
	require.NoError(t, err)
	assert.Equal(t, "Berlin Mitte", s.City)
	assert.Nil(t, s.Phone, "store fields are overwritten, not filled forward")
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM stores`))
}

func TestPersistStoreMissingIdentity(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Persist(ctx, models.StoreRecord{Address: "Hauptstr. 1", City: "Berlin", PostalCode: "10115"})
	assert.True(t, errors.Is(err, ErrMissingRetailer))

	_, err = r.Persist(ctx, models.StoreRecord{Retailer: "Aldi Nord", Address: "  ", City: "Berlin", PostalCode: "10115"})
	assert.True(t, errors.Is(err, ErrMissingAddress))

	assert.Equal(t, 0, count(t, db, `SELECT COUNT(*) FROM retailers`))
}

func TestPersistRetailerLogo(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	out, err := r.Persist(ctx, models.RetailerRecord{Name: "Lidl", Category: "Discounter"})
	require.NoError(t, err)
	assert.True(t, out.Created)

	out, err = r.Persist(ctx, models.RetailerRecord{Name: "Lidl", Category: "Discounter", LogoURL: models.Ptr("https://img/lidl.png")})
	require.NoError(t, err)
	assert.True(t, out.Updated)

	out, err = r.Persist(ctx, models.RetailerRecord{Name: "Lidl", Category: "Discounter", LogoURL: models.Ptr("https://img/lidl.png")})
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.False(t, out.Updated)

	retailer, err := store.FindRetailerByName(ctx, db, "Lidl")
	require.NoError(t, err)
	assert.Equal(t, "Discounter", retailer.Category)
	require.NotNil(t, retailer.LogoURL)
	assert.Equal(t, "https://img/lidl.png", *retailer.LogoURL)
}

func TestPersistIntegrityErrorIsIsolated(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	r.newID = sequentialIDs("r1", "f1", "r2", "f1", "r3", "f3")

	_, err := r.Persist(ctx, reweFlyer())
	require.NoError(t, err)

	clash := reweFlyer()
	clash.URL = "https://site/Prospekte/lidl"
	clash.Retailer = "Lidl"
	_, err = r.Persist(ctx, clash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))

	// The rolled back retailer must not have been cached.
	_, err = r.Persist(ctx, clash)
	require.NoError(t, err)
	lidl, err := store.FindRetailerByName(ctx, db, "Lidl")
	require.NoError(t, err)
	assert.Equal(t, "r3", lidl.ID)
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM flyers`))
}

func TestPersistIsIdempotent(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	flyer := reweFlyer()
	flyer.ContentID = models.Ptr("abc")
	batch := []models.Record{
		models.RetailerRecord{Name: "REWE", Category: "Supermarkt"},
		flyer,
		models.OfferRecord{
			URL: "https://site/Angebote/1", ContentID: models.Ptr("o1"), ParentContentID: models.Ptr("abc"),
			ProductName: "Kaffee", CurrentPrice: 6.49, OldPrice: models.Ptr(8.99), Retailer: "REWE",
		},
		models.StoreRecord{Retailer: "REWE", Address: "Marktplatz 2", City: "Köln", PostalCode: "50667"},
	}
	for _, rec := range batch {
		out, err := r.Persist(ctx, rec)
		require.NoError(t, err)
		assert.True(t, out.Created, "%s should be created on the first run", rec.Kind())
	}
	before := snapshot(t, db)

	// A fresh reconciler stands in for a second process run.
	r2, err := New(db)
	require.NoError(t, err)
	for _, rec := range batch {
		out, err := r2.Persist(ctx, rec)
		require.NoError(t, err)
		assert.False(t, out.Created, "%s must not be created twice", rec.Kind())
	}
	assert.Equal(t, before, snapshot(t, db))
}

func TestReferentialCompleteness(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	records := []models.Record{
		models.OfferRecord{URL: "https://site/Angebote/9", ProductName: "Brot", CurrentPrice: 1.29, Retailer: "Netto"},
		models.StoreRecord{Retailer: "Penny", Address: "Ring 4", City: "Hamburg", PostalCode: "20095"},
		models.FlyerRecord{URL: "https://site/Prospekte/x", Title: "Kaufland Prospekt", Pages: 8,
			ValidFrom: validFrom, ValidUntil: validUntil, Retailer: "Kaufland"},
	}
	for _, rec := range records {
		_, err := r.Persist(ctx, rec)
		require.NoError(t, err)
	}

	for _, table := range []string{"flyers", "offers", "stores"} {
		dangling := count(t, db, `SELECT COUNT(*) FROM `+table+` x LEFT JOIN retailers r ON r.id = x.retailer_id WHERE r.id IS NULL`)
		assert.Zero(t, dangling, table)
	}
	assert.Equal(t, 3, count(t, db, `SELECT COUNT(*) FROM retailers`))
}

type tableSnapshot struct {
	Totals models.Totals
	Pages  int
	Price  float64
	City   string
}

func snapshot(t *testing.T, db store.Querier) tableSnapshot {
	t.Helper()
	ctx := context.Background()
	totals, err := store.Counts(ctx, db)
	require.NoError(t, err)
	var s tableSnapshot
	s.Totals = totals
	require.NoError(t, db.QueryRow(ctx, `SELECT pages FROM flyers`).Scan(&s.Pages))
	require.NoError(t, db.QueryRow(ctx, `SELECT current_price FROM offers`).Scan(&s.Price))
	require.NoError(t, db.QueryRow(ctx, `SELECT city FROM stores`).Scan(&s.City))
	return s
}
