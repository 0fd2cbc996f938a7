package isoch

import "context"

// Port is the OS-specific isochronous receive channel/port collaborator
// (spec.md §4.11). A host application implements this against its FireWire
// driver; nothing in this package talks to hardware.
type Port interface {
	// SetSpeedAndChannel configures the isochronous speed (e.g. S400) and
	// channel number before the first start_receive.
	SetSpeedAndChannel(ctx context.Context, speed, channel int) error

	// BindProgram hands the port the DCL program's buffer and head index so
	// it can build its native DMA program. Called once per allocation (and
	// again after overrun recovery re-allocates).
	BindProgram(ctx context.Context, program *Program) error

	// FixupJumps notifies the port that the program's circular branch
	// target is valid, once the program is bound to a local port.
	FixupJumps() error

	// Start begins isochronous reception; group-completion and overrun
	// callbacks registered via Orchestrator fire on the port's own
	// isoch thread from this point on.
	Start(ctx context.Context) error

	// Stop halts reception. Any callback already in flight is awaited up
	// to the caller's own bound; Stop itself does not impose one.
	Stop(ctx context.Context) error
}

// HostClock is the OS's atomic cycle-time/host-uptime primitive (spec.md
// §4.10, §4.11): a snapshot that correlates the FireWire 24.576 MHz cycle
// timer with the host's monotonic clock.
type HostClock interface {
	// Now returns the current host monotonic time, in the same units used
	// by hostAbs in PLL calls (implementation-defined ticks; HostTicksPerSecond
	// reports the scale).
	Now() int64

	// HostTicksPerSecond is the tick rate of the values Now returns.
	HostTicksPerSecond() int64

	// CycleTimeSnapshot returns a single (hostAbs, fwCycleTimeTicks) pair
	// read as atomically as the OS allows, for PLL seeding (spec.md
	// §4.10 "may also call initialize directly from a single snapshot").
	CycleTimeSnapshot() (hostAbs int64, fwTicks uint32, err error)
}
