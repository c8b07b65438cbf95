package grid

import "strings"

const metersToMillimeters = 1000

// ToMillimeters returns a copy of a precipitation grid normalized to
// millimeters. Declared units win; when the field carries no usable
// units attribute the magnitude decides: GRIB precipitation in meters
// over one bucket rarely exceeds single digits, so a maximum below 5 is
// assumed to be meters and scaled up.
func ToMillimeters(g *Grid) *Grid {
	out := g.Clone()
	switch normalizeUnits(g.Attrs.Units) {
	case "mm":
	case "m":
		out.Scale(metersToMillimeters)
	default:
		if out.Max() < 5 {
			out.Scale(metersToMillimeters)
		}
	}
	out.Attrs.Units = "mm"
	return out
}

func normalizeUnits(units string) string {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "mm", "millimeter", "millimeters", "kg m-2", "kg/m^2", "kg m**-2":
		// 1 kg/m^2 of liquid water is 1 mm of depth.
		return "mm"
	case "m", "meter", "meters":
		return "m"
	default:
		return ""
	}
}

// KelvinToCelsius converts a temperature grid in place when its units
// say Kelvin, or when no units are declared and the values are clearly
// on an absolute scale.
func KelvinToCelsius(g *Grid) *Grid {
	out := g.Clone()
	units := strings.ToLower(strings.TrimSpace(g.Attrs.Units))
	absolute := units == "k" || units == "kelvin" || (units == "" && out.Max() > 150)
	if absolute {
		for i := range out.Values {
			for j := range out.Values[i] {
				out.Values[i][j] -= 273.15
			}
		}
	}
	out.Attrs.Units = "C"
	return out
}
