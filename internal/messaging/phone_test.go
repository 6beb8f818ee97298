package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare ten digits", "5551234567", "+15551234567", false},
		{"formatted", "(555) 123-4567", "+15551234567", false},
		{"with country code", "15551234567", "+15551234567", false},
		{"already e164", "+15551234567", "+15551234567", false},
		{"international", "+442071838750", "+442071838750", false},
		{"empty", "", "", true},
		{"too short", "12345", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeE164(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
