package grid

// Regrid interpolates src onto the axes of target using bilinear
// interpolation, clamping at the grid edges. When the axes already
// match it returns src unchanged; thermal fields from a coarser model
// grid are brought onto the precipitation grid this way before the
// snow-fraction multiply.
func Regrid(src, target *Grid) *Grid {
	if axesEqual(src.Lats, target.Lats) && axesEqual(src.Lons, target.Lons) {
		return src
	}

	out := New(target.Lats, target.Lons)
	out.Attrs = src.Attrs
	for i, lat := range target.Lats {
		ri, rf := bracket(src.Lats, lat)
		for j, lon := range target.Lons {
			ci, cf := bracket(src.Lons, lon)

			v00 := src.Values[ri][ci]
			v01 := src.Values[ri][clampIndex(ci+1, len(src.Lons))]
			v10 := src.Values[clampIndex(ri+1, len(src.Lats))][ci]
			v11 := src.Values[clampIndex(ri+1, len(src.Lats))][clampIndex(ci+1, len(src.Lons))]

			top := v00*(1-cf) + v01*cf
			bottom := v10*(1-cf) + v11*cf
			out.Values[i][j] = top*(1-rf) + bottom*rf
		}
	}
	return out
}

func axesEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// bracket finds the lower index and fractional position of v along a
// monotonic axis, clamped to the axis range. Axes may ascend or descend
// (latitudes usually descend north to south).
func bracket(axis []float64, v float64) (int, float64) {
	n := len(axis)
	if n < 2 {
		return 0, 0
	}

	ascending := axis[n-1] > axis[0]
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if (axis[mid] <= v) == ascending {
			lo = mid
		} else {
			hi = mid
		}
	}

	span := axis[lo+1] - axis[lo]
	if span == 0 {
		return lo, 0
	}
	frac := (v - axis[lo]) / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return lo, frac
}

func clampIndex(i, n int) int {
	if i > n-1 {
		return n - 1
	}
	return i
}
