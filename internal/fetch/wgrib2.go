package fetch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/stratuscast/gridgen/internal/grid"
)

// WGrib2Decoder decodes GRIB2 payloads by shelling out to the wgrib2
// utility, the standard tool for working with NCEP output. Each message
// is dumped as CSV rows of (time, time, var, level, lon, lat, value)
// and reassembled into grids.
type WGrib2Decoder struct {
	// Path to the wgrib2 binary; "wgrib2" resolves via PATH.
	Path string
}

// NewWGrib2Decoder creates a decoder using the given binary path.
func NewWGrib2Decoder(path string) *WGrib2Decoder {
	if path == "" {
		path = "wgrib2"
	}
	return &WGrib2Decoder{Path: path}
}

// Decode parses the payload and returns the requested fields keyed by
// internal name.
func (d *WGrib2Decoder) Decode(data []byte, fields []string) (map[string]*grid.Grid, error) {
	tmp, err := os.CreateTemp("", "gridgen-*.grib2")
	if err != nil {
		return nil, fmt.Errorf("stage grib payload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stage grib payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("stage grib payload: %w", err)
	}

	cmd := exec.Command(d.Path, tmp.Name(), "-inv", os.DevNull, "-csv", "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("wgrib2: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return assembleGrids(&stdout, fields)
}

// pointRow is one CSV row from wgrib2.
type pointRow struct {
	lat, lon, value float64
}

// assembleGrids groups CSV rows by (variable, level), matches them to
// the requested internal field names, and lays each group out on its
// lat/lon axes.
func assembleGrids(csv *bytes.Buffer, fields []string) (map[string]*grid.Grid, error) {
	wanted := make(map[string]string, len(fields)) // "VAR|level" -> internal name
	for _, f := range fields {
		sel, ok := gribSelectors[f]
		if !ok {
			continue
		}
		wanted[sel.Variable+"|"+sel.Level] = f
	}

	points := make(map[string][]pointRow)
	scanner := bufio.NewScanner(csv)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		cols := strings.Split(scanner.Text(), ",")
		if len(cols) < 7 {
			continue
		}
		variable := strings.Trim(cols[2], `"`)
		level := normalizeLevel(strings.Trim(cols[3], `"`))

		name, ok := wanted[variable+"|"+level]
		if !ok {
			continue
		}

		lon, err1 := strconv.ParseFloat(cols[4], 64)
		lat, err2 := strconv.ParseFloat(cols[5], 64)
		val, err3 := strconv.ParseFloat(cols[6], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		points[name] = append(points[name], pointRow{lat: lat, lon: lon, value: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan wgrib2 output: %w", err)
	}

	out := make(map[string]*grid.Grid, len(points))
	for name, rows := range points {
		g, err := layoutGrid(rows)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = g
	}
	return out, nil
}

// normalizeLevel maps wgrib2 level descriptions onto the filter-endpoint
// spellings used in gribSelectors.
func normalizeLevel(level string) string {
	switch {
	case level == "surface":
		return "surface"
	case strings.Contains(level, "850 mb"):
		return "850_mb"
	case strings.Contains(level, "2 m above ground"):
		return "2_m_above_ground"
	case strings.Contains(level, "10 m above ground"):
		return "10_m_above_ground"
	case strings.Contains(level, "entire atmosphere"):
		return "entire_atmosphere"
	default:
		return strings.ReplaceAll(level, " ", "_")
	}
}

// layoutGrid arranges scattered points onto their regular axes, north
// to south.
func layoutGrid(rows []pointRow) (*grid.Grid, error) {
	latSet := make(map[float64]bool)
	lonSet := make(map[float64]bool)
	for _, r := range rows {
		latSet[r.lat] = true
		lonSet[r.lon] = true
	}

	lats := sortedKeys(latSet)
	sort.Sort(sort.Reverse(sort.Float64Slice(lats)))
	lons := sortedKeys(lonSet)
	sort.Float64s(lons)

	if len(lats)*len(lons) != len(rows) {
		return nil, fmt.Errorf("irregular grid: %d lats x %d lons != %d points", len(lats), len(lons), len(rows))
	}

	latIdx := indexOf(lats)
	lonIdx := indexOf(lons)

	g := grid.New(lats, lons)
	for _, r := range rows {
		g.Values[latIdx[r.lat]][lonIdx[r.lon]] = r.value
	}
	return g, nil
}

func sortedKeys(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func indexOf(axis []float64) map[float64]int {
	idx := make(map[float64]int, len(axis))
	for i, v := range axis {
		idx[v] = i
	}
	return idx
}
