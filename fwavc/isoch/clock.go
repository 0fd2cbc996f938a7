package isoch

import (
	"golang.org/x/sys/unix"

	"github.com/kvaudio/fwavc/fwerr"
)

// MonotonicHostClock implements HostClock's host-time half with
// CLOCK_MONOTONIC_RAW, in nanoseconds. The FireWire cycle-timer half is
// driver-specific, so it is supplied by the caller as cycleTimeTicks: a
// function reading the local node's 24-bit cycle timer register through
// whatever driver binding the host application has.
type MonotonicHostClock struct {
	cycleTimeTicks func() (uint32, error)
}

// NewMonotonicHostClock creates a HostClock whose Now/HostTicksPerSecond
// use CLOCK_MONOTONIC_RAW and whose CycleTimeSnapshot reads the FireWire
// cycle timer via cycleTimeTicks. cycleTimeTicks may be nil, in which case
// CycleTimeSnapshot always fails — useful for tests/demos that seed the PLL
// a different way (spec.md §4.10: "may also call initialize directly").
func NewMonotonicHostClock(cycleTimeTicks func() (uint32, error)) *MonotonicHostClock {
	return &MonotonicHostClock{cycleTimeTicks: cycleTimeTicks}
}

const nanosPerSecond = 1_000_000_000

func (c *MonotonicHostClock) Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return ts.Sec*nanosPerSecond + int64(ts.Nsec)
}

func (c *MonotonicHostClock) HostTicksPerSecond() int64 { return nanosPerSecond }

func (c *MonotonicHostClock) CycleTimeSnapshot() (hostAbs int64, fwTicks uint32, err error) {
	if c.cycleTimeTicks == nil {
		return 0, 0, fwerr.New(fwerr.KindNotReady, "no cycle timer binding configured")
	}
	// Read the host clock immediately before the cycle-timer register so
	// the pair is as close to atomic as a software read can make it.
	hostAbs = c.Now()
	fwTicks, err = c.cycleTimeTicks()
	if err != nil {
		return 0, 0, fwerr.Wrap(fwerr.KindTransportIO, "cycle timer read failed", err)
	}
	return hostAbs, fwTicks, nil
}
