package extract

import (
	"maps"
	"slices"

	"github.com/mehran282/off-board-v1/models"
)

const maxSearchDepth = 20

var (
	storeMarkers   = []string{"address", "city", "postalCode", "street", "postcode", "zipCode"}
	storeLists     = []string{"stores", "locations", "branches"}
	storeAddress   = []strategy[string]{text("address"), text("street"), text("streetAddress")}
	storeCity      = []strategy[string]{text("city"), text("cityName")}
	storePostal    = []strategy[string]{text("postalCode"), text("postcode"), text("zipCode"), text("zip")}
	storeLatitude  = []strategy[float64]{number("latitude"), number("lat"), number("geoLatitude")}
	storeLongitude = []strategy[float64]{number("longitude"), number("lng"), number("lon"), number("geoLongitude")}
	storePhone     = []strategy[string]{text("phone"), text("telephone"), text("phoneNumber")}
	storeHours     = []strategy[string]{encoded("openingHours"), encoded("opening_hours"), encoded("hours"), encoded("openingTimes")}
)

// storeLike reports whether raw carries at least two store address fields.
func storeLike(raw map[string]any) bool {
	n := 0
	for _, k := range storeMarkers {
		if _, ok := raw[k]; ok {
			n++
		}
	}
	return n >= 2
}

// findStores collects store-like objects anywhere below v, bounded by depth.
func findStores(v any, depth int, found *[]map[string]any) {
	if depth > maxSearchDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if storeLike(t) {
			*found = append(*found, t)
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			findStores(t[k], depth+1, found)
		}
	case []any:
		for _, child := range t {
			findStores(child, depth+1, found)
		}
	}
}

// storeSet deduplicates stores by retailer, address, city and postal code.
type storeSet struct {
	seen map[string]struct{}
	out  []models.Record
}

func (s *storeSet) add(retailer string, raw map[string]any) {
	address, ok := firstOf(raw, storeAddress...)
	if !ok {
		return
	}
	city, _ := firstOf(raw, storeCity...)
	postal, _ := firstOf(raw, storePostal...)
	key := retailer + ":" + address + ":" + city + ":" + postal
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.out = append(s.out, models.StoreRecord{
		Retailer:     retailer,
		Address:      address,
		City:         city,
		PostalCode:   postal,
		Latitude:     optional(raw, storeLatitude...),
		Longitude:    optional(raw, storeLongitude...),
		Phone:        optional(raw, storePhone...),
		OpeningHours: optional(raw, storeHours...),
	})
}

// listingStores reads stores attached to brochure publishers on a listing page.
func listingStores(rs []map[string]any) []models.Record {
	var set storeSet
	for _, raw := range flyerItems(rs) {
		publisher := obj(raw["publisher"])
		name, ok := str(publisher["name"])
		if !ok {
			continue
		}
		for _, key := range storeLists {
			items := objects(publisher[key])
			if len(items) == 0 {
				continue
			}
			for _, item := range items {
				set.add(name, item)
			}
			break
		}
	}
	return set.out
}

// retailerStores searches a retailer page payload for store objects.
func retailerStores(tree map[string]any, retailer string) []models.Record {
	var found []map[string]any
	findStores(tree, 0, &found)
	var set storeSet
	for _, raw := range found {
		set.add(retailer, raw)
	}
	return set.out
}
