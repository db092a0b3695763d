package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehran282/off-board-v1/models"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func seedRetailer(t *testing.T, db DB, id, name string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, InsertRetailer(context.Background(), db, models.Retailer{
		ID: id, Name: name, Category: models.DefaultCategory, ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	db := newTestSQLite(t)
	require.NoError(t, db.Migrate(context.Background()))
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestSQLite_RetailerRoundTrip(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	seedRetailer(t, db, "r-1", "REWE")

	r, err := FindRetailerByName(ctx, db, "REWE")
	require.NoError(t, err)
	assert.Equal(t, "r-1", r.ID)
	assert.Nil(t, r.LogoURL)

	require.NoError(t, UpdateRetailerLogo(ctx, db, "r-1", "https://img/rewe.png", time.Now()))
	r, err = FindRetailer(ctx, db, "r-1")
	require.NoError(t, err)
	require.NotNil(t, r.LogoURL)
	assert.Equal(t, "https://img/rewe.png", *r.LogoURL)

	_, err = FindRetailerByName(ctx, db, "Lidl")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UniqueViolation(t *testing.T) {
	db := newTestSQLite(t)
	seedRetailer(t, db, "r-1", "REWE")

	now := time.Now().UTC()
	err := InsertRetailer(context.Background(), db, models.Retailer{
		ID: "r-2", Name: "REWE", Category: "General", ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestSQLite_UpdateFlyerKeepsOptionalFields(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	seedRetailer(t, db, "r-1", "REWE")

	from := time.Date(2025, 11, 16, 23, 0, 0, 0, time.UTC)
	until := time.Date(2025, 11, 22, 22, 0, 0, 0, time.UTC)
	require.NoError(t, InsertFlyer(ctx, db, models.Flyer{
		ID: "f-1", RetailerID: "r-1", Title: "REWE Prospekt", Pages: 22, ValidFrom: from, ValidUntil: until,
		URL: "https://site/Prospekte/abc", ContentID: models.Ptr("abc"), PDFURL: models.Ptr("https://cdn/abc.pdf"),
		PublishedFrom: models.Ptr(from), ScrapedAt: time.Now(),
	}))

	require.NoError(t, UpdateFlyer(ctx, db, models.Flyer{
		ID: "f-1", Title: "REWE Wochenprospekt", Pages: 23, ValidFrom: from, ValidUntil: until,
		ThumbnailURL: models.Ptr("https://cdn/abc/1.jpg"), ScrapedAt: time.Now(),
	}))

	f, err := FindFlyerByContentID(ctx, db, "abc")
	require.NoError(t, err)
	assert.Equal(t, "REWE Wochenprospekt", f.Title)
	assert.Equal(t, 23, f.Pages)
	require.NotNil(t, f.PDFURL)
	assert.Equal(t, "https://cdn/abc.pdf", *f.PDFURL)
	require.NotNil(t, f.ThumbnailURL)
	assert.Equal(t, "https://cdn/abc/1.jpg", *f.ThumbnailURL)
	require.NotNil(t, f.PublishedFrom)
	assert.True(t, from.Equal(*f.PublishedFrom))
	assert.True(t, until.Equal(f.ValidUntil))
}

func TestSQLite_FindProductNullAwareBrand(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, InsertProduct(ctx, db, models.Product{ID: "p-1", Name: "Milch"}))
	require.NoError(t, InsertProduct(ctx, db, models.Product{ID: "p-2", Name: "Milch", Brand: models.Ptr("Weihenstephan")}))

	p, err := FindProduct(ctx, db, "Milch", nil)
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)

	p, err = FindProduct(ctx, db, "Milch", models.Ptr("Weihenstephan"))
	require.NoError(t, err)
	assert.Equal(t, "p-2", p.ID)

	_, err = FindProduct(ctx, db, "Milch", models.Ptr("Landliebe"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_KeysAndCounts(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	seedRetailer(t, db, "r-1", "REWE")
	now := time.Now()

	require.NoError(t, InsertFlyer(ctx, db, models.Flyer{
		ID: "f-1", RetailerID: "r-1", Title: "REWE Prospekt", Pages: 1, ValidFrom: now, ValidUntil: now,
		URL: "https://site/Prospekte/abc", ContentID: models.Ptr("abc"), ScrapedAt: now,
	}))
	require.NoError(t, InsertOffer(ctx, db, models.Offer{
		ID: "o-1", RetailerID: "r-1", FlyerID: models.Ptr("f-1"), URL: "https://site/Angebote/1",
		ProductName: "Butter", CurrentPrice: 1.99, ScrapedAt: now,
	}))

	flyers, err := FlyerKeys(ctx, db)
	require.NoError(t, err)
	require.Len(t, flyers, 1)
	assert.Equal(t, "https://site/Prospekte/abc", flyers[0].URL)
	require.NotNil(t, flyers[0].ContentID)
	assert.Equal(t, "abc", *flyers[0].ContentID)

	offers, err := OfferKeys(ctx, db)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Nil(t, offers[0].ContentID)

	totals, err := Counts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, models.Totals{Retailers: 1, Flyers: 1, Offers: 1}, totals)
}

func TestSQLite_DeletingFlyerNullsOfferLink(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	seedRetailer(t, db, "r-1", "REWE")
	now := time.Now()

	require.NoError(t, InsertFlyer(ctx, db, models.Flyer{
		ID: "f-1", RetailerID: "r-1", Title: "REWE Prospekt", Pages: 1, ValidFrom: now, ValidUntil: now,
		URL: "https://site/Prospekte/abc", ScrapedAt: now,
	}))
	require.NoError(t, InsertOffer(ctx, db, models.Offer{
		ID: "o-1", RetailerID: "r-1", FlyerID: models.Ptr("f-1"), URL: "https://site/Angebote/1",
		ProductName: "Butter", CurrentPrice: 1.99, ScrapedAt: now,
	}))

	_, err := db.Exec(ctx, `DELETE FROM flyers WHERE id = ?`, "f-1")
	require.NoError(t, err)

	o, err := FindOfferByURL(ctx, db, "https://site/Angebote/1")
	require.NoError(t, err)
	assert.Nil(t, o.FlyerID)
}

func TestSQLite_InTxRollsBack(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(q Querier) error {
		if err := InsertProduct(ctx, q, models.Product{ID: "p-1", Name: "Milch"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = FindProduct(ctx, db, "Milch", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_RunLedger(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	old := time.Now().Add(-12 * time.Hour).UTC()
	fresh := time.Now().UTC()

	require.NoError(t, CreateRun(ctx, db, models.ScrapingLog{ID: "old", Type: models.RunAll, Status: models.StatusRunning, StartedAt: old}))
	require.NoError(t, CreateRun(ctx, db, models.ScrapingLog{ID: "new", Type: models.RunFlyers, Status: models.StatusRunning, StartedAt: fresh}))
	require.NoError(t, SetRunItems(ctx, db, "new", 10))

	latest, err := LatestRun(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
	assert.Equal(t, models.RunFlyers, latest.Type)
	assert.Equal(t, 10, latest.ItemsScraped)

	n, err := ReapStaleRuns(ctx, db, time.Now().Add(-6*time.Hour), time.Now(), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reaped, err := GetRun(ctx, db, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, reaped.Status)
	require.NotNil(t, reaped.CompletedAt)

	done := time.Now()
	require.NoError(t, FinishRun(ctx, db, models.ScrapingLog{
		ID: "new", Status: models.StatusCompleted, CompletedAt: &done, ItemsScraped: 12,
	}))
	err = FinishRun(ctx, db, models.ScrapingLog{ID: "new", Status: models.StatusFailed, CompletedAt: &done})
	assert.True(t, errors.Is(err, ErrNotFound), "terminal entries must not transition again")
}
