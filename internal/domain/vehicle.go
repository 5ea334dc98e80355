package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Vehicle identifies a specific year/make/model/engine combination.
type Vehicle struct {
	Year   string
	Make   string
	Model  string
	Engine string
}

var displacementRe = regexp.MustCompile(`(?i)(\d+\.\d+)\s*([lt])`)

// NormalizeVehicleKey builds the canonical vehicle key used as the first
// element of a chunk's identity, e.g. "2019_honda_accord_2.0t".
func NormalizeVehicleKey(v Vehicle) string {
	parts := []string{
		strings.TrimSpace(v.Year),
		strings.ToLower(strings.TrimSpace(v.Make)),
		CleanModelName(v.Model),
		CleanEngineName(v.Engine),
	}
	return strings.Join(parts, "_")
}

// ParseVehicleKey splits a normalized vehicle key back into its components.
// Keys have at least four underscore-separated parts; multi-word models keep
// their underscores in the middle.
func ParseVehicleKey(key string) (Vehicle, error) {
	parts := strings.Split(key, "_")
	if len(parts) < 4 {
		return Vehicle{}, fmt.Errorf("vehicle key %q must have at least 4 parts (year_make_model_engine): %w", key, ErrInvalidVehicleKey)
	}
	return Vehicle{
		Year:   parts[0],
		Make:   parts[1],
		Model:  strings.Join(parts[2:len(parts)-1], "_"),
		Engine: parts[len(parts)-1],
	}, nil
}

// CleanModelName normalizes a display model name, stripping generation
// parentheticals: "Civic (Eighth generation, North America)" -> "civic",
// "3 Series (E90)" -> "3_series".
func CleanModelName(model string) string {
	name := model
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "_")
	return name
}

// CleanEngineName reduces a display engine name to displacement shorthand:
// "2.0L Turbo I4" -> "2.0t", "3.5L V6 EcoBoost" -> "3.5l_ecoboost",
// "5.4L Triton V8" -> "5.4l". Forced induction other than turbo/EcoBoost
// (superchargers) keeps the plain displacement form.
func CleanEngineName(engine string) string {
	lower := strings.ToLower(strings.TrimSpace(engine))

	m := displacementRe.FindStringSubmatch(lower)
	if m == nil {
		// No displacement found; fall back to a flat slug.
		return strings.Join(strings.Fields(lower), "_")
	}

	displacement := m[1]
	unit := m[2]

	if strings.Contains(lower, "ecoboost") {
		return displacement + "l_ecoboost"
	}
	if unit == "t" || strings.Contains(lower, "turbo") {
		return displacement + "t"
	}
	return displacement + "l"
}
