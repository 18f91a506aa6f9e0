// Package clock provides the Clock external-collaborator interface from §6
// and a real wall-clock implementation. Tests use a fake so wake/cooldown
// arithmetic can be driven deterministically instead of racing real time.
package clock

import "time"

// Clock is the orchestrator's only source of time and suspension. The
// watcher never compares against unparsed wall-clock strings directly (§4.H);
// every ISO timestamp is parsed once and compared via this interface.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the OS clock.
type Real struct{}

func (Real) Now() time.Time        { return time.Now() }
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// New returns the production Clock.
func New() Clock { return Real{} }
