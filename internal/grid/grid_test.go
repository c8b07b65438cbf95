package grid

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(vals [][]float64) *Grid {
	lats := make([]float64, len(vals))
	for i := range lats {
		lats[i] = 40 - float64(i)
	}
	cols := 0
	if len(vals) > 0 {
		cols = len(vals[0])
	}
	lons := make([]float64, cols)
	for j := range lons {
		lons[j] = -100 + float64(j)
	}
	g := New(lats, lons)
	for i := range vals {
		copy(g.Values[i], vals[i])
	}
	return g
}

func TestNew(t *testing.T) {
	g := New([]float64{40, 39, 38}, []float64{-100, -99})

	assert.Equal(t, 3, g.Rows())
	assert.Equal(t, 2, g.Cols())
	for i := range g.Values {
		for j := range g.Values[i] {
			assert.Zero(t, g.Values[i][j])
		}
	}
}

func TestZeros(t *testing.T) {
	src := testGrid([][]float64{{1, 2}, {3, 4}})
	src.Attrs = Attrs{Units: "mm", Level: "surface"}

	z := Zeros(src)

	assert.Equal(t, src.Attrs, z.Attrs)
	assert.Equal(t, src.Lats, z.Lats)
	assert.Equal(t, src.Lons, z.Lons)
	assert.Zero(t, z.Max())
}

func TestClone(t *testing.T) {
	src := testGrid([][]float64{{1, 2}, {3, 4}})
	dup := src.Clone()

	dup.Values[0][0] = 99
	assert.Equal(t, 1.0, src.Values[0][0], "clone must not alias source storage")
	assert.Equal(t, src.Lats, dup.Lats)
}

func TestAdd(t *testing.T) {
	t.Run("accumulates in place", func(t *testing.T) {
		a := testGrid([][]float64{{1, 2}, {3, 4}})
		b := testGrid([][]float64{{10, 20}, {30, 40}})

		require.NoError(t, a.Add(b))

		want := [][]float64{{11, 22}, {33, 44}}
		assert.Empty(t, cmp.Diff(want, a.Values))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		a := testGrid([][]float64{{1, 2}, {3, 4}})
		b := testGrid([][]float64{{1, 2, 3}})

		err := a.Add(b)
		require.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestSub(t *testing.T) {
	t.Run("subtracts in place", func(t *testing.T) {
		a := testGrid([][]float64{{10, 20}, {30, 40}})
		b := testGrid([][]float64{{1, 2}, {3, 4}})

		require.NoError(t, a.Sub(b))

		want := [][]float64{{9, 18}, {27, 36}}
		assert.Empty(t, cmp.Diff(want, a.Values))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		a := testGrid([][]float64{{1}})
		b := testGrid([][]float64{{1, 2}})

		require.ErrorIs(t, a.Sub(b), ErrShapeMismatch)
	})
}

func TestScale(t *testing.T) {
	g := testGrid([][]float64{{1, -2}, {0, 4}})
	g.Scale(2.5)

	want := [][]float64{{2.5, -5}, {0, 10}}
	assert.Empty(t, cmp.Diff(want, g.Values))
}

func TestMax(t *testing.T) {
	tests := []struct {
		name string
		vals [][]float64
		want float64
	}{
		{"positive values", [][]float64{{1, 7}, {3, 2}}, 7},
		{"all negative", [][]float64{{-5, -2}, {-9, -3}}, -2},
		{"empty grid", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testGrid(tt.vals).Max())
		})
	}
}

func TestDatasetField(t *testing.T) {
	g := testGrid([][]float64{{1}})
	ds := &Dataset{Fields: map[string]*Grid{"apcp": g}}

	assert.Same(t, g, ds.Field("apcp"))
	assert.Nil(t, ds.Field("missing"))

	var nilDS *Dataset
	assert.Nil(t, nilDS.Field("apcp"))
}

func TestDatasetMerge(t *testing.T) {
	base := testGrid([][]float64{{1}})
	derived := testGrid([][]float64{{2}})

	ds := &Dataset{Fields: map[string]*Grid{"apcp": base}}
	ds.Merge(map[string]*Grid{"apcp": derived, "precip_total": derived})

	assert.Same(t, derived, ds.Fields["apcp"], "merge overwrites on collision")
	assert.Same(t, derived, ds.Fields["precip_total"])

	empty := &Dataset{}
	empty.Merge(map[string]*Grid{"t2m": base})
	assert.Same(t, base, empty.Fields["t2m"])
}
