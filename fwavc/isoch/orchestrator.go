package isoch

import (
	"context"
	"sync"
	"time"

	"github.com/kvaudio/fwavc/fwerr"
	"github.com/kvaudio/fwavc/internal/logging"
	"github.com/kvaudio/fwavc/ring"
)

var log = logging.For("isoch")

// MessageKind enumerates the orchestrator's status notifications
// (spec.md §7: "message — enumerated status").
type MessageKind int

const (
	MessageTransportStarted MessageKind = iota
	MessageTransportStopped
	MessageOverrun
	MessageDBCDiscontinuity
	MessageNoDataTimeout
	MessageFatalError
)

// Message is one status notification delivered to the client (spec.md §7).
type Message struct {
	Kind MessageKind
	Err  error // set for MessageFatalError
}

// Config parameterizes a receive session (spec.md §4.7, §4.8, §4.11).
type Config struct {
	NumGroups             int
	PacketsPerGroup       int
	PacketDataSize        int
	CallbackGroupInterval int
	TargetSampleRate      int
	Speed, Channel        int
	RingCapacityFrames    int
	NoDataTimeout         time.Duration
}

// Orchestrator is the Receiver Orchestrator (C10): wires the buffer
// manager, DCL program, packet processor, and PLL around an OS-provided
// Port, and owns the public ring buffer.
type Orchestrator struct {
	cfg   Config
	port  Port
	clock HostClock

	mu      sync.Mutex // serializes lifecycle operations (spec.md §5)
	running bool

	buffer    *Buffer
	program   *Program
	processor *PacketProcessor
	pll       *PLL
	ringBuf   *ring.Buffer

	// OnMessage, OnGroupComplete are optional client callbacks. They run on
	// the isoch thread (spec.md §5) — clients must not block in them.
	OnMessage       func(Message)
	OnGroupComplete func(group int)

	noDataTimer *time.Timer
	noDataStop  chan struct{}
}

// NewOrchestrator builds an Orchestrator against port and clock, per
// spec.md §4.11's initialize step. Buffers, the DCL program, packet
// processor, and PLL are all allocated here; PLL seeding via the host
// clock's cycle-time snapshot is attempted but not required to succeed.
func NewOrchestrator(ctx context.Context, cfg Config, port Port, clock HostClock) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, port: port, clock: clock}
	if err := o.allocate(ctx); err != nil {
		return nil, err
	}
	o.processor = NewPacketProcessor()
	o.processor.OnDiscontinuity = func(expected, got byte) {
		o.notify(Message{Kind: MessageDBCDiscontinuity})
		log.Warn("DBC discontinuity", "expected", expected, "got", got)
	}
	o.pll = NewPLL(cfg.TargetSampleRate, clock.HostTicksPerSecond())
	o.ringBuf = ring.New(cfg.RingCapacityFrames)

	if hostAbs, fwTicks, err := clock.CycleTimeSnapshot(); err == nil {
		o.pll.Initialize(hostAbs, fwTicks)
	} else {
		log.Warn("PLL seeding from cycle-time snapshot unavailable", "err", err)
	}

	return o, nil
}

func (o *Orchestrator) allocate(ctx context.Context) error {
	o.buffer = NewBuffer(o.cfg.NumGroups, o.cfg.PacketsPerGroup, o.cfg.PacketDataSize)
	o.program = BuildProgram(o.buffer, o.cfg.CallbackGroupInterval)
	if err := o.port.BindProgram(ctx, o.program); err != nil {
		return fwerr.Wrap(fwerr.KindNoMemory, "binding DCL program to port failed", err)
	}
	return nil
}

// Configure sets isochronous speed and channel on the port (spec.md §4.11).
func (o *Orchestrator) Configure(ctx context.Context, speed, channel int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.Speed, o.cfg.Channel = speed, channel
	return o.port.SetSpeedAndChannel(ctx, speed, channel)
}

// StartReceive fixes up DCL jump targets and starts the transport
// (spec.md §4.11).
func (o *Orchestrator) StartReceive(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fwerr.New(fwerr.KindBusy, "receiver already started")
	}
	if err := o.program.FixupJumps(o.port); err != nil {
		return fwerr.Wrap(fwerr.KindNoMemory, "DCL jump fixup failed", err)
	}
	if err := o.port.Start(ctx); err != nil {
		return fwerr.Wrap(fwerr.KindNotReady, "port start failed", err)
	}
	o.running = true
	o.armNoDataTimer()
	o.notify(Message{Kind: MessageTransportStarted})
	return nil
}

// StopReceive stops the transport in the same lock order as StartReceive
// (spec.md §4.11, §5).
func (o *Orchestrator) StopReceive(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}
	o.disarmNoDataTimer()
	if err := o.port.Stop(ctx); err != nil {
		return fwerr.Wrap(fwerr.KindNotReady, "port stop failed", err)
	}
	o.running = false
	o.notify(Message{Kind: MessageTransportStopped})
	return nil
}

// Ring returns the read-only accessor to the output ring buffer
// (spec.md §4.11: "owns the public ring buffer and exposes a read-only
// accessor").
func (o *Orchestrator) Ring() *ring.Buffer { return o.ringBuf }

// OnBufferGroupComplete is the DCL group-completion callback (spec.md
// §4.11): for each packet in the group, pull its regions from the buffer
// manager, run them through the packet processor, publish frames, and reset
// the no-data timer. It is intended to be invoked by the Port
// implementation from its isoch thread.
func (o *Orchestrator) OnBufferGroupComplete(group int, fwTimestamps []uint32, nowHostAbs int64) {
	for i, packetIdx := range o.program.PacketsInGroup(group) {
		regions := o.buffer.Packet(packetIdx)
		var fwTS uint32
		if i < len(fwTimestamps) {
			fwTS = fwTimestamps[i]
		}
		frames, timing, isFirstEver, ok := o.processor.Process(regions.IsochHeader, regions.CIPHeader, regions.Data, fwTS)
		if !ok {
			continue
		}
		if isFirstEver {
			o.pll.Initialize(nowHostAbs, timing.FWTimestamp)
		}
		o.pll.Update(timing, nowHostAbs)
		for _, f := range frames {
			nanos := o.pll.PresentationTimeNanos(f.AbsoluteSampleIndex)
			if !o.ringBuf.Write(ring.Frame{Left: f.Left, Right: f.Right, PresentationNanos: uint64(nanos)}) {
				log.Warn("ring buffer full, dropping frame", "sample_index", f.AbsoluteSampleIndex)
			}
		}
	}
	o.resetNoDataTimer()
	if o.OnGroupComplete != nil {
		o.OnGroupComplete(group)
	}
}

// OnOverrun is the DCL program's overrun callback (spec.md §4.11): stop the
// channel, reset the packet processor, re-allocate and re-bind the buffer
// and DCL program, fix DCL jumps, re-start. A failure at any step is
// surfaced to the client as fatal and the receiver is left stopped.
func (o *Orchestrator) OnOverrun(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.notify(Message{Kind: MessageOverrun})
	log.Warn("isoch buffer overrun, recovering")

	if err := o.port.Stop(ctx); err != nil {
		o.fatal(err)
		return
	}
	o.processor.Reset()
	if err := o.allocate(ctx); err != nil {
		o.fatal(err)
		return
	}
	if err := o.program.FixupJumps(o.port); err != nil {
		o.fatal(err)
		return
	}
	if err := o.port.Start(ctx); err != nil {
		o.fatal(err)
		return
	}
	o.running = true
}

func (o *Orchestrator) fatal(err error) {
	o.running = false
	o.notify(Message{Kind: MessageFatalError, Err: err})
	log.Error("fatal error recovering receiver", "err", err)
}

func (o *Orchestrator) notify(m Message) {
	if o.OnMessage != nil {
		o.OnMessage(m)
	}
}

func (o *Orchestrator) armNoDataTimer() {
	if o.cfg.NoDataTimeout <= 0 {
		return
	}
	o.noDataStop = make(chan struct{})
	o.noDataTimer = time.AfterFunc(o.cfg.NoDataTimeout, o.onNoDataTimeout)
}

func (o *Orchestrator) disarmNoDataTimer() {
	if o.noDataTimer != nil {
		o.noDataTimer.Stop()
		o.noDataTimer = nil
	}
	if o.noDataStop != nil {
		close(o.noDataStop)
		o.noDataStop = nil
	}
}

func (o *Orchestrator) resetNoDataTimer() {
	if o.noDataTimer != nil && o.cfg.NoDataTimeout > 0 {
		o.noDataTimer.Reset(o.cfg.NoDataTimeout)
	}
}

func (o *Orchestrator) onNoDataTimeout() {
	o.notify(Message{Kind: MessageNoDataTimeout})
	o.mu.Lock()
	stillRunning := o.running
	o.mu.Unlock()
	if stillRunning {
		o.armNoDataTimer() // re-arm (spec.md §5: "re-arms itself")
	}
}
