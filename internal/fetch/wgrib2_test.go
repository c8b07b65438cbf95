package fetch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csvBuffer(lines ...string) *bytes.Buffer {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l + "\n")
	}
	return &buf
}

func TestAssembleGrids(t *testing.T) {
	t.Run("single field on a 2x2 grid", func(t *testing.T) {
		buf := csvBuffer(
			`"2026010212","2026010218","APCP","surface",-100,40,1.5`,
			`"2026010212","2026010218","APCP","surface",-99,40,2.5`,
			`"2026010212","2026010218","APCP","surface",-100,39,3.5`,
			`"2026010212","2026010218","APCP","surface",-99,39,4.5`,
		)

		grids, err := assembleGrids(buf, []string{"apcp"})
		require.NoError(t, err)
		require.Contains(t, grids, "apcp")

		g := grids["apcp"]
		assert.Equal(t, []float64{40, 39}, g.Lats, "latitudes run north to south")
		assert.Equal(t, []float64{-100, -99}, g.Lons)
		assert.Equal(t, [][]float64{{1.5, 2.5}, {3.5, 4.5}}, g.Values)
	})

	t.Run("levels separate same-variable fields", func(t *testing.T) {
		buf := csvBuffer(
			`"2026010212","2026010218","TMP","850 mb",-100,40,263.15`,
			`"2026010212","2026010218","TMP","2 m above ground",-100,40,278.15`,
		)

		grids, err := assembleGrids(buf, []string{"t850", "t2m"})
		require.NoError(t, err)
		require.Len(t, grids, 2)
		assert.Equal(t, 263.15, grids["t850"].Values[0][0])
		assert.Equal(t, 278.15, grids["t2m"].Values[0][0])
	})

	t.Run("unrequested fields dropped", func(t *testing.T) {
		buf := csvBuffer(
			`"2026010212","2026010218","APCP","surface",-100,40,1`,
			`"2026010212","2026010218","REFC","entire atmosphere (considered as a single layer)",-100,40,35`,
		)

		grids, err := assembleGrids(buf, []string{"apcp"})
		require.NoError(t, err)
		assert.Len(t, grids, 1)
		assert.Contains(t, grids, "apcp")
	})

	t.Run("malformed rows skipped", func(t *testing.T) {
		buf := csvBuffer(
			`garbage line`,
			`"2026010212","2026010218","APCP","surface",not,a,number`,
			`"2026010212","2026010218","APCP","surface",-100,40,1`,
		)

		grids, err := assembleGrids(buf, []string{"apcp"})
		require.NoError(t, err)
		require.Contains(t, grids, "apcp")
		assert.Equal(t, 1.0, grids["apcp"].Values[0][0])
	})

	t.Run("irregular grid is an error", func(t *testing.T) {
		buf := csvBuffer(
			`"2026010212","2026010218","APCP","surface",-100,40,1`,
			`"2026010212","2026010218","APCP","surface",-99,40,2`,
			`"2026010212","2026010218","APCP","surface",-100,39,3`,
		)

		_, err := assembleGrids(buf, []string{"apcp"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "irregular grid")
	})
}

func TestNormalizeLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"surface", "surface"},
		{"850 mb", "850_mb"},
		{"2 m above ground", "2_m_above_ground"},
		{"10 m above ground", "10_m_above_ground"},
		{"entire atmosphere (considered as a single layer)", "entire_atmosphere"},
		{"500 mb", "500_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeLevel(tt.in))
		})
	}
}

func TestNewWGrib2Decoder(t *testing.T) {
	assert.Equal(t, "wgrib2", NewWGrib2Decoder("").Path)
	assert.Equal(t, "/opt/bin/wgrib2", NewWGrib2Decoder("/opt/bin/wgrib2").Path)
}
