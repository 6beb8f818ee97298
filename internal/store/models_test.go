package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }
func f64Ptr(f float64) *float64  { return &f }
func boolPtr(b bool) *bool       { return &b }

func fullFields() ListingFields {
	return ListingFields{
		Make:                  strPtr("Toyota"),
		Model:                 strPtr("Camry"),
		Year:                  intPtr(2019),
		Miles:                 intPtr(42000),
		ListingPrice:          f64Ptr(18500),
		TireLifeLeft:          boolPtr(true),
		TitleStatus:           strPtr(TitleClean),
		CarfaxDamageIncidents: strPtr(CarfaxNo),
		DocFeeQuoted:          f64Ptr(299),
		DocFeeNegotiable:      boolPtr(false),
		LowestPrice:           f64Ptr(17000),
	}
}

func TestAdvanceState(t *testing.T) {
	tests := []struct {
		name    string
		current string
		next    string
		want    string
		wantErr error
	}{
		{"forward one step", StateCollectingInfo, StateNegotiating, StateNegotiating, nil},
		{"skip ahead", StateCollectingInfo, StateScheduling, StateScheduling, nil},
		{"same state", StateNegotiating, StateNegotiating, StateNegotiating, nil},
		{"regression", StateScheduling, StateCollectingInfo, StateScheduling, ErrStateRegression},
		{"regression from completed", StateCompleted, StateNegotiating, StateCompleted, ErrStateRegression},
		{"unknown current defaults", "", StateNegotiating, StateNegotiating, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdvanceState(tt.current, tt.next)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := AdvanceState(StateCollectingInfo, "bogus")
	assert.Error(t, err)
}

func TestMaxState(t *testing.T) {
	assert.Equal(t, StateScheduling, MaxState(StateScheduling, StateNegotiating))
	assert.Equal(t, StateScheduling, MaxState(StateNegotiating, StateScheduling))
	assert.Equal(t, StateCompleted, MaxState(StateCompleted, StateCompleted))
}

func TestListingFieldsComplete(t *testing.T) {
	t.Run("all fields present", func(t *testing.T) {
		f := fullFields()
		assert.True(t, f.CoreComplete())
		assert.True(t, f.Complete())
	})

	t.Run("missing core field", func(t *testing.T) {
		f := fullFields()
		f.Miles = nil
		assert.False(t, f.CoreComplete())
		assert.False(t, f.Complete())
	})

	t.Run("missing lowest price", func(t *testing.T) {
		f := fullFields()
		f.LowestPrice = nil
		assert.True(t, f.CoreComplete())
		assert.False(t, f.Complete())
	})

	t.Run("negotiable fee requires agreed fee", func(t *testing.T) {
		f := fullFields()
		f.DocFeeNegotiable = boolPtr(true)
		assert.False(t, f.Complete())
		f.DocFeeAgreed = f64Ptr(150)
		assert.True(t, f.Complete())
	})

	t.Run("fixed fee needs no agreed fee", func(t *testing.T) {
		f := fullFields()
		f.DocFeeNegotiable = boolPtr(false)
		f.DocFeeAgreed = nil
		assert.True(t, f.Complete())
	})
}

func TestListingFieldsMerge(t *testing.T) {
	base := ListingFields{
		Make: strPtr("Honda"),
		Year: intPtr(2020),
	}
	base.Merge(ListingFields{
		Model:        strPtr("Civic"),
		Year:         intPtr(2021),
		ListingPrice: f64Ptr(21000),
	})

	require.NotNil(t, base.Make)
	assert.Equal(t, "Honda", *base.Make)
	require.NotNil(t, base.Model)
	assert.Equal(t, "Civic", *base.Model)
	require.NotNil(t, base.Year)
	assert.Equal(t, 2021, *base.Year)
	require.NotNil(t, base.ListingPrice)
	assert.Equal(t, 21000.0, *base.ListingPrice)
	assert.Nil(t, base.Miles, "merge must not invent fields")
}

func TestMergeDoesNotClearKnownFields(t *testing.T) {
	f := fullFields()
	f.Merge(ListingFields{})
	assert.True(t, f.Complete())
}
