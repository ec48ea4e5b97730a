// v0
// internal/profile/profile_test.go
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryLocations(t *testing.T) {
	t.Parallel()
	reg := DefaultRegistry()
	assert.Equal(t, []string{"Dows Lake", "Fifth Avenue", "NAC"}, reg.Locations())

	p, err := reg.Lookup("Fifth Avenue")
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 25, Max: 32}, p.IceThickness)
	assert.Equal(t, Range{Min: -8, Max: 0}, p.ExternalTemperature)
}

func TestLookupUnknownLocation(t *testing.T) {
	t.Parallel()
	_, err := DefaultRegistry().Lookup("Hartwell Locks")
	require.ErrorIs(t, err, ErrUnknownLocation)
}

func TestNewRegistryRejectsInvalidProfiles(t *testing.T) {
	t.Parallel()
	valid := Defaults()[0]
	cases := []struct {
		name string
		mut  func(p *Profile)
	}{
		{name: "empty location", mut: func(p *Profile) { p.Location = " " }},
		{name: "inverted", mut: func(p *Profile) { p.IceThickness = Range{Min: 5, Max: 1} }},
		{name: "no 2-decimal value", mut: func(p *Profile) { p.SnowAccumulation = Range{Min: 0.001, Max: 0.009} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tc.mut(&p)
			_, err := NewRegistry(p)
			require.Error(t, err)
		})
	}

	_, err := NewRegistry(valid, valid)
	require.Error(t, err, "duplicate location must be rejected")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.toml")
	body := `
[[profile]]
location = "Dows Lake"
ice_thickness = { min = 30.0, max = 31.5 }
surface_temperature = { min = -2.0, max = -1.0 }
snow_accumulation = { min = 0.0, max = 1.0 }
external_temperature = { min = -4.0, max = -3.0 }

[[profile]]
location = "Patterson Creek"
ice_thickness = { min = 20.0, max = 24.0 }
surface_temperature = { min = -3.0, max = 0.0 }
snow_accumulation = { min = 0.0, max = 2.0 }
external_temperature = { min = -7.0, max = -1.0 }
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dows Lake", "Fifth Avenue", "NAC", "Patterson Creek"}, reg.Locations())

	p, err := reg.Lookup("Dows Lake")
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 30, Max: 31.5}, p.IceThickness)
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRangeString(t *testing.T) {
	if got := (Range{Min: -10, Max: 2.5}).String(); got != "[-10, 2.5]" {
		t.Fatalf("unexpected range text %q", got)
	}
}
