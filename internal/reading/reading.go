// v1
// internal/reading/reading.go
package reading

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/profile"
)

// TimestampLayout is the ISO-8601 UTC layout used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Reading is a single simulated sample for one device. Values are in
// centimetres (ice, snow) and degrees Celsius (temperatures), rounded to
// two decimals.
type Reading struct {
	DeviceID            string
	Location            string
	Timestamp           time.Time
	IceThickness        float64
	SurfaceTemperature  float64
	SnowAccumulation    float64
	ExternalTemperature float64
}

// FormattedTimestamp renders the timestamp in TimestampLayout.
func (r Reading) FormattedTimestamp() string {
	return r.Timestamp.UTC().Format(TimestampLayout)
}

// DeviceID derives the stable device identifier for a location:
// lowercase, spaces replaced with hyphens.
func DeviceID(location string) string {
	return strings.ToLower(strings.ReplaceAll(location, " ", "-"))
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the clock used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// Generator produces independent uniformly distributed readings. It is safe
// for concurrent use; callers that need reproducible sequences should give
// each goroutine its own Generator.
type Generator struct {
	profiles *profile.Registry

	mu  sync.Mutex
	rnd *rand.Rand

	now func() time.Time
}

// New builds a Generator drawing from src. A nil src seeds from the clock.
func New(profiles *profile.Registry, src rand.Source, opts ...Option) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	g := &Generator{
		profiles: profiles,
		rnd:      rand.New(src),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate draws one reading for location. It fails only when the location
// has no registered profile.
func (g *Generator) Generate(location string) (Reading, error) {
	p, err := g.profiles.Lookup(location)
	if err != nil {
		return Reading{}, err
	}

	g.mu.Lock()
	ice := sample(g.rnd, p.IceThickness)
	surface := sample(g.rnd, p.SurfaceTemperature)
	snow := sample(g.rnd, p.SnowAccumulation)
	external := sample(g.rnd, p.ExternalTemperature)
	g.mu.Unlock()

	return Reading{
		DeviceID:            DeviceID(location),
		Location:            location,
		Timestamp:           g.now().UTC(),
		IceThickness:        ice,
		SurfaceTemperature:  surface,
		SnowAccumulation:    snow,
		ExternalTemperature: external,
	}, nil
}

func sample(rnd *rand.Rand, r profile.Range) float64 {
	v := Round2(r.Min + rnd.Float64()*(r.Max-r.Min))
	if v > r.Max {
		v = math.Floor(r.Max*100) / 100
	}
	if v < r.Min {
		v = math.Ceil(r.Min*100) / 100
	}
	return v
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
