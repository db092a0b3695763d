package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

// Drop labels reported by Admit.
const (
	DuplicateURL       = "duplicate_url"
	DuplicateContentID = "duplicate_content_id"
)

// Deduplicator remembers the URLs and content ids of flyers and offers seen
// during a run. Retailers and stores pass through untouched; their identity
// is resolved on persistence.
type Deduplicator struct {
	mu         sync.Mutex
	urls       map[string]struct{}
	contentIDs map[string]struct{}
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		urls:       make(map[string]struct{}),
		contentIDs: make(map[string]struct{}),
	}
}

// Preload seeds the sets with every stored flyer and offer key.
func (d *Deduplicator) Preload(ctx context.Context, q store.Querier) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, load := range []func(context.Context, store.Querier) ([]store.Key, error){store.FlyerKeys, store.OfferKeys} {
		g.Go(func() error {
			keys, err := load(ctx, q)
			if err != nil {
				return err
			}
			d.add(keys)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "pipeline: preload keys")
	}

	urls, ids := d.Len()
	zap.L().Info("pipeline: dedup preloaded", zap.Int("urls", urls), zap.Int("content_ids", ids))
	return nil
}

func (d *Deduplicator) add(keys []store.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		if k.URL != "" {
			d.urls[k.URL] = struct{}{}
		}
		if k.ContentID != nil && *k.ContentID != "" {
			d.contentIDs[*k.ContentID] = struct{}{}
		}
	}
}

// Admit reports whether rec is new. An admitted record's keys are remembered
// immediately. A rejected record comes with the drop label explaining why.
func (d *Deduplicator) Admit(rec models.Record) (string, bool) {
	keyed, ok := rec.(models.Keyed)
	if !ok {
		return "", true
	}
	url, contentID := keyed.Keys()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.urls[url]; url != "" && seen {
		zap.L().Debug("pipeline: duplicate skipped", zap.String("url", url))
		return DuplicateURL, false
	}
	if contentID != nil && *contentID != "" {
		if _, seen := d.contentIDs[*contentID]; seen {
			zap.L().Debug("pipeline: duplicate skipped", zap.String("content_id", *contentID))
			return DuplicateContentID, false
		}
		d.contentIDs[*contentID] = struct{}{}
	}
	if url != "" {
		d.urls[url] = struct{}{}
	}
	return "", true
}

// Len returns the number of remembered URLs and content ids.
func (d *Deduplicator) Len() (urls, contentIDs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls), len(d.contentIDs)
}
