package id_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/id"
)

func TestNew_CarriesPrefix(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() id.ID
		prefix id.Prefix
	}{
		{"liability", id.NewLiabilityID, id.PrefixLiability},
		{"charge", id.NewChargeID, id.PrefixCharge},
		{"payment", id.NewPaymentID, id.PrefixPayment},
		{"plan", id.NewPlanID, id.PrefixPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			assert.False(t, got.IsNil())
			assert.Equal(t, tt.prefix, got.Prefix())
			assert.Contains(t, got.String(), string(tt.prefix)+"_")
		})
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := id.NewPaymentID().String()
		require.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}

func TestParseWithPrefix(t *testing.T) {
	charge := id.NewChargeID()

	parsed, err := id.ParseWithPrefix(charge.String(), id.PrefixCharge)
	require.NoError(t, err)
	assert.Equal(t, charge.String(), parsed.String())

	_, err = id.ParseWithPrefix(charge.String(), id.PrefixPayment)
	assert.Error(t, err)

	_, err = id.Parse("")
	assert.Error(t, err)

	_, err = id.Parse("not an id")
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	type doc struct {
		ID    id.ID `json:"id"`
		Other id.ID `json:"other"`
	}
	in := doc{ID: id.NewPlanID()}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"other":""`)

	var out doc
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.ID.String(), out.ID.String())
	assert.True(t, out.Other.IsNil())
}

func TestScan(t *testing.T) {
	want := id.NewLiabilityID()

	var got id.ID
	require.NoError(t, got.Scan(want.String()))
	assert.Equal(t, want.String(), got.String())

	require.NoError(t, got.Scan(nil))
	assert.True(t, got.IsNil())

	assert.Error(t, got.Scan(42))

	v, err := id.Nil.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
