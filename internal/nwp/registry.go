package nwp

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Registry is the immutable capability table: models on one side,
// output-variable requirements on the other. Constructed once at
// startup and passed by reference into every component.
type Registry struct {
	models    map[string]ModelConfig
	variables map[string]VariableRequirement
	aliases   map[string]string
}

// NewRegistry builds a registry from explicit tables, validating that
// every variable naming a derived field also sets the matching flag so
// the accumulation engine knows which computation to run.
func NewRegistry(models []ModelConfig, variables []VariableRequirement, aliases map[string]string) (*Registry, error) {
	r := &Registry{
		models:    make(map[string]ModelConfig, len(models)),
		variables: make(map[string]VariableRequirement, len(variables)),
		aliases:   make(map[string]string, len(aliases)),
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model config with empty id")
		}
		r.models[m.ID] = m
	}
	for _, v := range variables {
		if err := validateVariable(v); err != nil {
			return nil, err
		}
		r.variables[v.Name] = v
	}
	for alias, canonical := range aliases {
		if _, ok := r.variables[canonical]; !ok {
			return nil, fmt.Errorf("alias %q points at unknown variable %q", alias, canonical)
		}
		r.aliases[strings.ToLower(alias)] = canonical
	}
	return r, nil
}

func validateVariable(v VariableRequirement) error {
	for _, d := range v.DerivedFields {
		var ok bool
		switch d {
		case DerivedPrecipTotal:
			ok = v.NeedsPrecipTotal
		case DerivedSnowTotal:
			ok = v.NeedsSnowTotal
		case DerivedPrecipRate:
			ok = v.NeedsPrecipRate6h
		default:
			return fmt.Errorf("variable %q names unknown derived field %q", v.Name, d)
		}
		if !ok {
			return fmt.Errorf("variable %q requires derived field %q without the matching flag", v.Name, d)
		}
	}
	return nil
}

// Model looks up a model config by id.
func (r *Registry) Model(id string) (ModelConfig, bool) {
	m, ok := r.models[id]
	return m, ok
}

// EnabledModels returns the enabled model configs keyed by id.
func (r *Registry) EnabledModels() map[string]ModelConfig {
	out := make(map[string]ModelConfig)
	for id, m := range r.models {
		if m.Enabled {
			out[id] = m
		}
	}
	return out
}

// Variable resolves a variable name or alias to its requirement.
func (r *Registry) Variable(name string) (VariableRequirement, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	v, ok := r.variables[key]
	return v, ok
}

// FilterVariablesForModel drops variables the model cannot produce:
// unknown names, entries on the model's exclusion list, and variables
// whose requirements need reflectivity or upper-air data the model
// lacks. Canonical names are returned.
func (r *Registry) FilterVariablesForModel(variables []string, model ModelConfig) []string {
	out := make([]string, 0, len(variables))
	for _, name := range variables {
		req, ok := r.Variable(name)
		if !ok {
			continue
		}
		if slices.Contains(model.ExcludedVariables, req.Name) {
			continue
		}
		if req.NeedsReflectivity && !model.HasReflectivity {
			continue
		}
		if req.NeedsUpperAir && !model.HasUpperAir {
			continue
		}
		if slices.Contains(out, req.Name) {
			continue
		}
		out = append(out, req.Name)
	}
	return out
}

// DefaultModels returns the built-in model table. GFS reports bucketed
// precipitation; HRRR and AIFS report cumulative-from-init.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{
			ID:                   ModelGFS,
			RunHours:             []int{0, 6, 12, 18},
			LeadIncrementHours:   6,
			MaxLeadHours:         240,
			AvailabilityDelay:    3*time.Hour + 30*time.Minute,
			HasReflectivity:      true,
			HasNativePrecipMasks: true,
			HasUpperAir:          true,
			FetchTimeout:         90 * time.Second,
			FetchRetries:         3,
			PriorityWeight:       40,
			Enabled:              true,
		},
		{
			ID:                       ModelHRRR,
			RunHours:                 []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23},
			LeadIncrementHours:       1,
			MaxLeadHours:             48,
			AvailabilityDelay:        55 * time.Minute,
			HasReflectivity:          true,
			HasNativePrecipMasks:     true,
			HasUpperAir:              false,
			PrecipCumulativeFromInit: true,
			FetchTimeout:             60 * time.Second,
			FetchRetries:             3,
			PriorityWeight:           35,
			Enabled:                  true,
		},
		{
			ID:                       ModelAIFS,
			RunHours:                 []int{0, 6, 12, 18},
			LeadIncrementHours:       6,
			MaxLeadHours:             240,
			AvailabilityDelay:        7 * time.Hour,
			HasUpperAir:              true,
			PrecipCumulativeFromInit: true,
			ExcludedVariables:        []string{"reflectivity"},
			FetchTimeout:             90 * time.Second,
			FetchRetries:             3,
			PriorityWeight:           25,
			Enabled:                  true,
		},
	}
}

// DefaultVariables returns the built-in output-variable table.
func DefaultVariables() []VariableRequirement {
	return []VariableRequirement{
		{
			Name:             "precip_total",
			RequiredFields:   []string{FieldPrecip},
			DerivedFields:    []string{DerivedPrecipTotal},
			NeedsPrecipTotal: true,
		},
		{
			Name:           "snow_total",
			RequiredFields: []string{FieldPrecip},
			DerivedFields:  []string{DerivedSnowTotal},
			OptionalFields: []string{FieldSnowMask, FieldTemp850, FieldTemp2m},
			NeedsSnowTotal: true,
		},
		{
			Name:              "precip_rate_6h",
			RequiredFields:    []string{FieldPrecip},
			DerivedFields:     []string{DerivedPrecipRate},
			NeedsPrecipRate6h: true,
		},
		{
			Name:           "temperature_2m",
			RequiredFields: []string{FieldTemp2m},
		},
		{
			Name:              "reflectivity",
			RequiredFields:    []string{FieldReflectivty},
			NeedsReflectivity: true,
		},
		{
			Name:           "wind_10m",
			RequiredFields: []string{FieldWindU10, FieldWindV10},
		},
		{
			Name:           "temp_850",
			RequiredFields: []string{FieldTemp850},
			NeedsUpperAir:  true,
		},
	}
}

// DefaultAliases maps the historic and user-facing spellings onto
// canonical variable names.
func DefaultAliases() map[string]string {
	return map[string]string{
		"precip":      "precip_total",
		"qpf":         "precip_total",
		"snow":        "snow_total",
		"snowfall":    "snow_total",
		"precip_rate": "precip_rate_6h",
		"temp":        "temperature_2m",
		"temperature": "temperature_2m",
		"radar":       "reflectivity",
		"wind":        "wind_10m",
		"t850":        "temp_850",
	}
}

// DefaultRegistry builds a registry from the built-in tables. The
// built-ins are internally consistent, so construction cannot fail.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultModels(), DefaultVariables(), DefaultAliases())
	if err != nil {
		panic(err)
	}
	return r
}
