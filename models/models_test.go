package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscount(t *testing.T) {
	tests := []struct {
		name        string
		current     float64
		old         *float64
		wantDisc    *float64
		wantPercent *float64
	}{
		{name: "genuine old price", current: 6.49, old: Ptr(8.99), wantDisc: Ptr(2.50), wantPercent: Ptr(27.81)},
		{name: "old price lower", current: 6.49, old: Ptr(5.00)},
		{name: "old price equal", current: 6.49, old: Ptr(6.49)},
		{name: "no old price", current: 6.49},
		{name: "zero current", current: 0, old: Ptr(5.00)},
		{name: "negative current", current: -1, old: Ptr(5.00)},
		{name: "sub-cent reduction", current: 100, old: Ptr(100.004)},
		{name: "percentage rounds to zero", current: 999.99, old: Ptr(1000.00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, p := Discount(tt.current, tt.old)
			if tt.wantDisc == nil {
				assert.Nil(t, d)
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, d)
			require.NotNil(t, p)
			assert.InDelta(t, *tt.wantDisc, *d, 0.001)
			assert.InDelta(t, *tt.wantPercent, *p, 0.001)
			assert.Greater(t, *p, 0.0)
		})
	}
}

func TestParseRunType(t *testing.T) {
	for _, s := range []string{"flyers", "offers", "retailers", "products", "all", " ALL "} {
		_, err := ParseRunType(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseRunType("stores")
	assert.Error(t, err)
}

func TestRunTypeKinds(t *testing.T) {
	assert.True(t, RunProducts.Kinds().Has(KindOffer))
	assert.False(t, RunProducts.Kinds().Has(KindFlyer))
	assert.True(t, RunRetailers.Kinds().Has(KindStore))
	all := RunAll.Kinds()
	for _, k := range []Kind{KindRetailer, KindFlyer, KindOffer, KindStore} {
		assert.True(t, all.Has(k), k)
	}
}

func TestKeyedRecords(t *testing.T) {
	var rec Record = FlyerRecord{URL: "https://www.kaufda.de/Prospekte/abc", ContentID: Ptr("abc")}
	keyed, ok := rec.(Keyed)
	require.True(t, ok)
	url, id := keyed.Keys()
	assert.Equal(t, "https://www.kaufda.de/Prospekte/abc", url)
	assert.Equal(t, "abc", *id)

	_, ok = Record(StoreRecord{}).(Keyed)
	assert.False(t, ok)
	_, ok = Record(RetailerRecord{}).(Keyed)
	assert.False(t, ok)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
