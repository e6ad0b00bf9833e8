package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so hold-period rules are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns the production clock.
func NewSystem() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
