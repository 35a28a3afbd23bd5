package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHUC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    HUC
		wantErr bool
	}{
		{"1209", "1209", false},
		{" 120903 ", "120903", false},
		{"12090301", "12090301", false},
		{"120903011204", "120903011204", false},
		{"120", "", true},
		{"12093", "", true},
		{"12a9", "", true},
		{"", "", true},
		{"12090301120401", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseHUC(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHUCPrefixes(t *testing.T) {
	t.Parallel()

	h := HUC("12090301")
	assert.Equal(t, HUC("1209"), h.HU4())
	assert.Equal(t, HUC("120903"), h.HU6())
	assert.Equal(t, 8, h.Level())
	assert.Equal(t, HUC("0102"), HUC("0102").HU6())
}

func TestUniqueHU4s(t *testing.T) {
	t.Parallel()

	got := UniqueHU4s([]HUC{"12090301", "12090302", "0102"})
	assert.ElementsMatch(t, []HUC{"1209", "0102"}, got)
	assert.Equal(t, []HUC{"0102", "1209"}, got)
}

func TestUniqueHU4s_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, UniqueHU4s(nil))
}

func TestUniqueHU6s(t *testing.T) {
	t.Parallel()

	got := UniqueHU6s([]HUC{"12090301", "12090302", "12100101", "0102"})
	assert.Equal(t, []HUC{"120903", "121001"}, got)
}
