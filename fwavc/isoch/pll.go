package isoch

// Cycle-timer constants (spec.md §4.10, §3.69): the FireWire cycle timer
// wraps every second at 8000 cycles x 3072 ticks.
const (
	cycleTimerTicksPerCycle  = 3072
	cyclesPerSecond          = 8000
	cycleTimerTicksPerSecond = cyclesPerSecond * cycleTimerTicksPerCycle // 24,576,000
)

// PLL gains (spec.md §4.10).
const (
	defaultKp   = 0.01
	defaultKi   = 0.001
	defaultIMax = 0.001

	ratioMin   = 0.999
	ratioMax   = 1.001
	iirAlpha   = 0.1

	// sytNoInfo is the CIP SYT field's invalid sentinel (spec.md §3):
	// carried by every packet that isn't the SYT-bearing one in a cycle.
	sytNoInfo = 0xFFFF
)

type pllAnchor struct {
	hostAbs int64
	fwTS    uint32
}

type sytAnchor struct {
	hostAbs         int64
	fwTS            uint32
	absSampleIndex  uint64
	syt             uint16
	valid           bool
}

// PLL is the Audio Clock PLL (C9): a PI-controlled estimator of the ratio
// between the FireWire cycle timer and the host monotonic clock.
type PLL struct {
	TargetSampleRate   int
	HostTicksPerSecond int64
	Kp, Ki, IMax       float64

	initialized           bool
	currentRatio          float64
	phaseErrorAccumulator float64

	initial pllAnchor
	lastSYT sytAnchor

	lastHostAbs int64
	lastFWTS    uint32
}

// NewPLL creates a PLL targeting targetSampleRate, with a host clock
// ticking at hostTicksPerSecond (spec.md §4.10).
func NewPLL(targetSampleRate int, hostTicksPerSecond int64) *PLL {
	p := &PLL{
		TargetSampleRate:   targetSampleRate,
		HostTicksPerSecond: hostTicksPerSecond,
		Kp:                 defaultKp,
		Ki:                 defaultKi,
		IMax:               defaultIMax,
	}
	p.reset()
	return p
}

func (p *PLL) reset() {
	p.currentRatio = 1.0
	p.phaseErrorAccumulator = 0
	p.initial = pllAnchor{}
	p.lastSYT = sytAnchor{}
}

// SetGains overrides the PI controller's tuning, for hosts that need to
// adapt convergence speed to device jitter (original_source
// AudioClockPLL.hpp's setGains).
func (p *PLL) SetGains(kp, ki, iMax float64) {
	p.Kp, p.Ki, p.IMax = kp, ki, iMax
}

// SetSampleRate re-targets the PLL to a new nominal sample rate, e.g. after
// a format change mid-session (original_source AudioClockPLL.hpp's
// setSampleRate). It does not reset accumulated phase state.
func (p *PLL) SetSampleRate(targetSampleRate int) {
	p.TargetSampleRate = targetSampleRate
}

// Initialize seeds both anchor pairs from a single correlated
// (hostAbs, fwTS) snapshot and marks the PLL live (spec.md §4.10).
func (p *PLL) Initialize(hostAbs int64, fwTS uint32) {
	p.initial = pllAnchor{hostAbs: hostAbs, fwTS: fwTS}
	p.lastHostAbs, p.lastFWTS = hostAbs, fwTS
	p.initialized = true
}

// UpdateInitialSYT anchors the SYT-based pair, called once when the first
// valid SYT is observed (spec.md §4.10).
func (p *PLL) UpdateInitialSYT(firstSYT uint16, firstSYTFWTS uint32, firstAbsSampleIndex uint64) {
	p.lastSYT = sytAnchor{
		hostAbs:        p.lastHostAbs,
		fwTS:           firstSYTFWTS,
		absSampleIndex: firstAbsSampleIndex,
		syt:            firstSYT,
		valid:          true,
	}
}

// correctWrap adjusts a fw tick delta for the cycle timer's 24-bit wrap,
// folding in whole seconds when the raw delta implies more than half a
// second of drift (spec.md §4.10).
func correctWrap(delta int64) int64 {
	half := int64(cycleTimerTicksPerSecond) / 2
	for delta > half {
		delta -= cycleTimerTicksPerSecond
	}
	for delta < -half {
		delta += cycleTimerTicksPerSecond
	}
	return delta
}

// Update processes one packet's timing info against the PLL (spec.md
// §4.10). nowHostAbs is the host clock reading associated with receiving
// this packet.
func (p *PLL) Update(timing PacketTimingInfo, nowHostAbs int64) {
	if !p.initialized && timing.FWTimestamp != 0 {
		p.Initialize(nowHostAbs, timing.FWTimestamp)
	}

	sytValid := timing.SYT != sytNoInfo
	if sytValid && (!p.lastSYT.valid || timing.SYT != p.lastSYT.syt) {
		if !p.lastSYT.valid {
			p.UpdateInitialSYT(timing.SYT, timing.FWTimestamp, timing.FirstAbsSampleIndex)
		} else {
			p.stepPI(timing, nowHostAbs)
			p.lastSYT = sytAnchor{
				hostAbs:        nowHostAbs,
				fwTS:           timing.FWTimestamp,
				absSampleIndex: timing.FirstAbsSampleIndex,
				syt:            timing.SYT,
				valid:          true,
			}
		}
	}

	p.lastHostAbs, p.lastFWTS = nowHostAbs, timing.FWTimestamp
}

func (p *PLL) stepPI(timing PacketTimingInfo, nowHostAbs int64) {
	anchor := p.lastSYT
	samplesSince := int64(timing.FirstAbsSampleIndex) - int64(anchor.absSampleIndex)
	if samplesSince <= 0 || p.TargetSampleRate <= 0 {
		return
	}

	expectedFWTicks := float64(samplesSince) / float64(p.TargetSampleRate) * cycleTimerTicksPerSecond
	fwTicksDelta := correctWrap(int64(timing.FWTimestamp) - int64(anchor.fwTS))
	phaseErrorTicks := float64(fwTicksDelta) - expectedFWTicks

	p.phaseErrorAccumulator += phaseErrorTicks * p.Ki
	if p.phaseErrorAccumulator > p.IMax {
		p.phaseErrorAccumulator = p.IMax
	} else if p.phaseErrorAccumulator < -p.IMax {
		p.phaseErrorAccumulator = -p.IMax
	}

	elapsedHostTicks := nowHostAbs - anchor.hostAbs
	if elapsedHostTicks <= 0 {
		return
	}
	// Normalize the phase error (in FireWire ticks) to a fractional
	// frequency error relative to the nominal tick rate over the elapsed
	// host interval.
	nominalFWTicksOverInterval := float64(elapsedHostTicks) / float64(p.HostTicksPerSecond) * cycleTimerTicksPerSecond
	var normalizedErr float64
	if nominalFWTicksOverInterval != 0 {
		normalizedErr = phaseErrorTicks / nominalFWTicksOverInterval
	}

	adjustment := 1 + p.Kp*normalizedErr + p.phaseErrorAccumulator
	target := p.currentRatio * adjustment
	if target < ratioMin {
		target = ratioMin
	} else if target > ratioMax {
		target = ratioMax
	}
	p.currentRatio = p.currentRatio + iirAlpha*(target-p.currentRatio)
}

// PresentationTimeNanos implements spec.md §4.10's query: estimate, in
// nanoseconds on the host's own timebase, when absoluteSampleIndex's frame
// should be presented.
func (p *PLL) PresentationTimeNanos(absoluteSampleIndex uint64) int64 {
	anchor := p.lastSYT
	var anchorHostAbs int64
	var anchorSampleIndex uint64
	if anchor.valid {
		anchorHostAbs, anchorSampleIndex = anchor.hostAbs, anchor.absSampleIndex
	} else {
		anchorHostAbs, anchorSampleIndex = p.initial.hostAbs, 0
	}

	if absoluteSampleIndex < anchorSampleIndex {
		return hostTicksToNanos(anchorHostAbs, p.HostTicksPerSecond)
	}

	samplesSinceAnchor := absoluteSampleIndex - anchorSampleIndex
	if p.TargetSampleRate <= 0 || p.currentRatio == 0 {
		return hostTicksToNanos(anchorHostAbs, p.HostTicksPerSecond)
	}
	hostTicksPerSampleNominal := float64(p.HostTicksPerSecond) / float64(p.TargetSampleRate)
	deltaHostTicks := float64(samplesSinceAnchor) * hostTicksPerSampleNominal / p.currentRatio

	estimatedAbs := anchorHostAbs + int64(deltaHostTicks)
	return hostTicksToNanos(estimatedAbs, p.HostTicksPerSecond)
}

func hostTicksToNanos(ticks int64, hostTicksPerSecond int64) int64 {
	if hostTicksPerSecond == nanosPerSecond {
		return ticks
	}
	return ticks * nanosPerSecond / hostTicksPerSecond
}
