package extract

import (
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
)

// PageKind selects how a fetched page is interpreted.
type PageKind int

const (
	// ListingPage is a rendered page carrying brochures, offers and publishers.
	ListingPage PageKind = iota
	// RetailerPage is a retailer's store-listing page.
	RetailerPage
	// BrochurePages is the JSON page listing of a single brochure.
	BrochurePages
)

func (k PageKind) String() string {
	switch k {
	case ListingPage:
		return "listing"
	case RetailerPage:
		return "retailer"
	case BrochurePages:
		return "brochure"
	}
	return "unknown"
}

// Page is one fetched document.
type Page struct {
	URL  string
	Kind PageKind
	Body []byte

	// Retailer names the owner of a RetailerPage.
	Retailer string
	// Flyer is the brochure a BrochurePages response belongs to.
	Flyer *models.FlyerRecord
}

// Extractor converts pages into candidate records.
type Extractor struct {
	baseURL string
	now     func() time.Time
}

// New returns an Extractor resolving relative links against baseURL.
func New(baseURL string) *Extractor {
	return &Extractor{baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Extract yields the records of p restricted to kinds. The page is fully
// extracted when iteration starts and the records are then yielded in order.
// Extraction problems never surface as errors.
func (e *Extractor) Extract(p Page, kinds models.KindSet) iter.Seq[models.Record] {
	return func(yield func(models.Record) bool) {
		for _, rec := range e.records(p, kinds) {
			if !yield(rec) {
				return
			}
		}
	}
}

func (e *Extractor) records(p Page, kinds models.KindSet) []models.Record {
	log := zap.L().With(zap.String("url", p.URL), zap.Stringer("page", p.Kind))
	switch p.Kind {
	case BrochurePages:
		return e.brochure(p, kinds, log)
	case RetailerPage:
		return e.retailerPage(p, kinds, log)
	default:
		return e.listing(p, kinds, log)
	}
}

func (e *Extractor) listing(p Page, kinds models.KindSet, log *zap.Logger) []models.Record {
	doc, err := parseDocument(p.Body)
	if err != nil {
		log.Warn("extract: unreadable page", zap.Error(err))
		return nil
	}
	tree, err := nextData(doc)
	if err != nil {
		log.Warn("extract: embedded payload missing, using markup fallback", zap.Error(err))
		return e.markup(p.URL, doc, kinds)
	}
	recs, err := e.structured(tree, kinds)
	switch {
	case err != nil:
		log.Warn("extract: structured extraction failed, using markup fallback", zap.Error(err))
		return e.markup(p.URL, doc, kinds)
	case len(recs) == 0:
		log.Warn("extract: payload yielded no records, using markup fallback")
		return e.markup(p.URL, doc, kinds)
	}
	return recs
}

// structured extracts from the payload tree. A panic from an unexpected
// shape is converted into an error so the caller can fall back.
func (e *Extractor) structured(tree map[string]any, kinds models.KindSet) (recs []models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, eris.Errorf("extract: unexpected payload shape: %v", r)
		}
	}()
	rs := roots(tree)
	if len(rs) == 0 {
		return nil, eris.New("extract: payload has no known root")
	}
	if kinds.Has(models.KindRetailer) {
		recs = append(recs, e.retailers(rs)...)
	}
	if kinds.Has(models.KindFlyer) {
		recs = append(recs, e.flyers(rs)...)
	}
	if kinds.Has(models.KindOffer) {
		recs = append(recs, e.offers(rs)...)
	}
	if kinds.Has(models.KindStore) {
		recs = append(recs, listingStores(rs)...)
	}
	return recs, nil
}

func (e *Extractor) retailerPage(p Page, kinds models.KindSet, log *zap.Logger) []models.Record {
	if !kinds.Has(models.KindStore) || p.Retailer == "" {
		return nil
	}
	doc, err := parseDocument(p.Body)
	if err != nil {
		log.Warn("extract: unreadable retailer page", zap.Error(err))
		return nil
	}
	tree, err := nextData(doc)
	if err != nil {
		log.Warn("extract: retailer page has no embedded payload", zap.String("retailer", p.Retailer))
		return nil
	}
	stores := retailerStores(tree, p.Retailer)
	if len(stores) == 0 {
		log.Info("extract: no stores on retailer page", zap.String("retailer", p.Retailer))
	}
	return stores
}

// brochure enriches the carried flyer from the pages listing. An unusable
// response degrades to the flyer as it was.
func (e *Extractor) brochure(p Page, kinds models.KindSet, log *zap.Logger) []models.Record {
	if p.Flyer == nil {
		return nil
	}
	flyer := *p.Flyer
	contents, err := decodeBrochure(p.Body)
	if err != nil {
		log.Debug("extract: brochure pages unusable", zap.Error(err))
		if kinds.Has(models.KindFlyer) {
			return []models.Record{flyer}
		}
		return nil
	}
	var out []models.Record
	if kinds.Has(models.KindFlyer) {
		out = append(out, enrichFlyer(flyer, contents))
	}
	if kinds.Has(models.KindOffer) {
		out = append(out, e.brochureOffers(flyer, contents)...)
	}
	return out
}
