// v0
// internal/profile/file.go
package profile

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type profileFile struct {
	Profiles []Profile `toml:"profile"`
}

// LoadFile reads profiles from a TOML file of [[profile]] tables. Profiles
// in the file replace built-in defaults with the same location; other
// defaults are kept.
//
//	[[profile]]
//	location = "Dows Lake"
//	ice_thickness = { min = 28.0, max = 35.0 }
//	surface_temperature = { min = -5.0, max = -1.0 }
//	snow_accumulation = { min = 0.0, max = 5.0 }
//	external_temperature = { min = -10.0, max = -2.0 }
func LoadFile(path string) (*Registry, error) {
	var f profileFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode profiles %s: %w", path, err)
	}
	return merge(Defaults(), f.Profiles)
}

func merge(base, overrides []Profile) (*Registry, error) {
	seen := make(map[string]bool, len(overrides))
	out := make([]Profile, 0, len(base)+len(overrides))
	for _, p := range overrides {
		if seen[p.Location] {
			return nil, fmt.Errorf("duplicate profile for location %q", p.Location)
		}
		seen[p.Location] = true
		out = append(out, p)
	}
	for _, p := range base {
		if !seen[p.Location] {
			out = append(out, p)
		}
	}
	return NewRegistry(out...)
}
