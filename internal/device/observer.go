// v0
// internal/device/observer.go
package device

import (
	"time"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/reading"
)

// Outcome describes one completed cycle.
type Outcome struct {
	Identity            Identity
	Cycle               int
	Reading             reading.Reading
	Err                 error // nil on success
	Latency             time.Duration
	ConsecutiveFailures int
}

// Observer receives worker events. Implementations must be safe for
// concurrent use because every worker reports to the same observers.
type Observer interface {
	OnState(id Identity, state State, err error)
	OnPublish(o Outcome)
}

// Observers fans events out to every member.
type Observers []Observer

func (obs Observers) OnState(id Identity, state State, err error) {
	for _, o := range obs {
		o.OnState(id, state, err)
	}
}

func (obs Observers) OnPublish(out Outcome) {
	for _, o := range obs {
		o.OnPublish(out)
	}
}

type nopObserver struct{}

func (nopObserver) OnState(Identity, State, error) {}
func (nopObserver) OnPublish(Outcome)              {}
