// Package xtime re-exports github.com/jacobsa/timeutil's Clock under the
// names used throughout the inode manager, so stat timestamps
// (atime/mtime/ctime) can be pinned in tests exactly the way gcsfuse's
// fs/inode package fakes time via timeutil.SimulatedClock.
package xtime

import "github.com/jacobsa/timeutil"

// Clock abstracts time.Now so inode timestamps can be pinned in tests.
type Clock = timeutil.Clock

// Real is the production Clock, backed by the wall clock.
func Real() Clock {
	return timeutil.RealClock()
}

// Simulated is a Clock that only advances when told to, via SetTime or
// AdvanceTime. Its zero value is usable.
type Simulated = timeutil.SimulatedClock

// NewSimulated returns a ready-to-use Simulated clock pinned to the zero
// time.Time; call SetTime to pin it elsewhere.
func NewSimulated() *Simulated {
	return &timeutil.SimulatedClock{}
}
