// v1
// internal/profile/profile.go

// Package profile holds the per-location bounds used to simulate plausible
// sensor readings. Profiles are loaded once at startup and never mutated.
package profile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrUnknownLocation is returned when no profile is registered for a location.
var ErrUnknownLocation = errors.New("no simulation profile for location")

// Range is a closed numeric interval [Min, Max].
type Range struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// Contains reports whether v lies inside the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

func (r Range) validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return errors.New("bounds must be finite")
	}
	if r.Min > r.Max {
		return fmt.Errorf("min %g greater than max %g", r.Min, r.Max)
	}
	// at least one 2-decimal value must fit, otherwise rounding can never land inside
	if math.Ceil(r.Min*100) > math.Floor(r.Max*100) {
		return fmt.Errorf("range [%g,%g] holds no 2-decimal value", r.Min, r.Max)
	}
	return nil
}

// Profile declares the bounds of every simulated quantity for one location.
type Profile struct {
	Location            string `toml:"location"`
	IceThickness        Range  `toml:"ice_thickness"`        // cm
	SurfaceTemperature  Range  `toml:"surface_temperature"`  // °C
	SnowAccumulation    Range  `toml:"snow_accumulation"`    // cm
	ExternalTemperature Range  `toml:"external_temperature"` // °C
}

// Validate checks every range of the profile.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Location) == "" {
		return errors.New("profile location cannot be empty")
	}
	checks := []struct {
		name string
		r    Range
	}{
		{"ice_thickness", p.IceThickness},
		{"surface_temperature", p.SurfaceTemperature},
		{"snow_accumulation", p.SnowAccumulation},
		{"external_temperature", p.ExternalTemperature},
	}
	for _, c := range checks {
		if err := c.r.validate(); err != nil {
			return fmt.Errorf("profile %q %s: %w", p.Location, c.name, err)
		}
	}
	return nil
}

// Registry is an immutable set of profiles keyed by location.
type Registry struct {
	byLocation map[string]Profile
}

// NewRegistry validates the supplied profiles and indexes them by location.
// Duplicate locations are rejected.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.Location]; dup {
			return nil, fmt.Errorf("duplicate profile for location %q", p.Location)
		}
		m[p.Location] = p
	}
	return &Registry{byLocation: m}, nil
}

// Lookup returns the profile registered for location.
func (r *Registry) Lookup(location string) (Profile, error) {
	p, ok := r.byLocation[location]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	}
	return p, nil
}

// Locations lists the registered locations in lexical order.
func (r *Registry) Locations() []string {
	out := make([]string, 0, len(r.byLocation))
	for loc := range r.byLocation {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Defaults returns the built-in Rideau Canal profiles.
func Defaults() []Profile {
	return []Profile{
		{
			Location:            "Dows Lake",
			IceThickness:        Range{Min: 28, Max: 35},
			SurfaceTemperature:  Range{Min: -5, Max: -1},
			SnowAccumulation:    Range{Min: 0, Max: 5},
			ExternalTemperature: Range{Min: -10, Max: -2},
		},
		{
			Location:            "Fifth Avenue",
			IceThickness:        Range{Min: 25, Max: 32},
			SurfaceTemperature:  Range{Min: -3, Max: 1},
			SnowAccumulation:    Range{Min: 0, Max: 8},
			ExternalTemperature: Range{Min: -8, Max: 0},
		},
		{
			Location:            "NAC",
			IceThickness:        Range{Min: 26, Max: 33},
			SurfaceTemperature:  Range{Min: -4, Max: 0},
			SnowAccumulation:    Range{Min: 0, Max: 6},
			ExternalTemperature: Range{Min: -9, Max: -1},
		},
	}
}

// DefaultRegistry builds a registry from Defaults.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		panic(err)
	}
	return r
}
