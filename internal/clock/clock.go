package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time and timers so expiry logic can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return Real{} }),
)

type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
