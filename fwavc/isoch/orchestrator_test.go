package isoch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPort struct {
	bindCalls     int
	fixupCalls    int
	startCalls    int
	stopCalls     int
	startErr      error
	stopErr       error
	bindErr       error
}

func (p *stubPort) SetSpeedAndChannel(_ context.Context, _, _ int) error { return nil }
func (p *stubPort) BindProgram(_ context.Context, _ *Program) error {
	p.bindCalls++
	return p.bindErr
}
func (p *stubPort) FixupJumps() error {
	p.fixupCalls++
	return nil
}
func (p *stubPort) Start(_ context.Context) error {
	p.startCalls++
	return p.startErr
}
func (p *stubPort) Stop(_ context.Context) error {
	p.stopCalls++
	return p.stopErr
}

type stubClock struct {
	snapshotErr error
}

func (c *stubClock) Now() int64                  { return 0 }
func (c *stubClock) HostTicksPerSecond() int64    { return nanosPerSecond }
func (c *stubClock) CycleTimeSnapshot() (int64, uint32, error) {
	if c.snapshotErr != nil {
		return 0, 0, c.snapshotErr
	}
	return 1000, 5000, nil
}

func testConfig() Config {
	return Config{
		NumGroups:             2,
		PacketsPerGroup:       4,
		PacketDataSize:        32,
		CallbackGroupInterval: 1,
		TargetSampleRate:      48000,
		RingCapacityFrames:    1024,
	}
}

func TestNewOrchestratorBindsProgramAndSeedsPLL(t *testing.T) {
	port := &stubPort{}
	clock := &stubClock{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, clock)
	require.NoError(t, err)
	assert.Equal(t, 1, port.bindCalls)
	assert.True(t, orch.pll.initialized, "a successful cycle-time snapshot must seed the PLL")
}

func TestNewOrchestratorToleratesFailedPLLSeed(t *testing.T) {
	port := &stubPort{}
	clock := &stubClock{snapshotErr: errors.New("no snapshot")}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, clock)
	require.NoError(t, err)
	assert.False(t, orch.pll.initialized)
}

func TestNewOrchestratorFailsWhenPortCannotBindProgram(t *testing.T) {
	port := &stubPort{bindErr: errors.New("no DMA memory")}
	clock := &stubClock{}
	_, err := NewOrchestrator(context.Background(), testConfig(), port, clock)
	assert.Error(t, err)
}

func TestStartReceiveRejectsDoubleStart(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)

	require.NoError(t, orch.StartReceive(context.Background()))
	err = orch.StartReceive(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, port.startCalls)
}

func TestStartReceiveNotifiesTransportStarted(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)

	var messages []MessageKind
	orch.OnMessage = func(m Message) { messages = append(messages, m.Kind) }

	require.NoError(t, orch.StartReceive(context.Background()))
	assert.Contains(t, messages, MessageTransportStarted)
}

func TestStopReceiveIsANoOpWhenNotRunning(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	assert.NoError(t, orch.StopReceive(context.Background()))
	assert.Equal(t, 0, port.stopCalls)
}

func TestStopReceiveStopsPortAndNotifies(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	require.NoError(t, orch.StartReceive(context.Background()))

	var messages []MessageKind
	orch.OnMessage = func(m Message) { messages = append(messages, m.Kind) }
	require.NoError(t, orch.StopReceive(context.Background()))
	assert.Equal(t, 1, port.stopCalls)
	assert.Contains(t, messages, MessageTransportStopped)
}

func writeSyntheticGroup(t *testing.T, orch *Orchestrator, group int, dbc byte) {
	t.Helper()
	buf := orch.buffer
	for _, packetIdx := range orch.program.PacketsInGroup(group) {
		r := buf.Packet(packetIdx)
		// isoch header contents are unused by Process; leave zeroed.
		q0 := uint32(2)<<16 | uint32(dbc) // DBS=2 words, dbc as given
		q1 := uint32(cipFmtAMDTP) << 24
		r.CIPHeader[0] = byte(q0 >> 24)
		r.CIPHeader[1] = byte(q0 >> 16)
		r.CIPHeader[2] = byte(q0 >> 8)
		r.CIPHeader[3] = byte(q0)
		r.CIPHeader[4] = byte(q1 >> 24)
		r.CIPHeader[5] = byte(q1 >> 16)
		r.CIPHeader[6] = byte(q1 >> 8)
		r.CIPHeader[7] = byte(q1)
		for i := range r.Data {
			if i%4 == 0 {
				r.Data[i] = am824Label
			}
		}
	}
}

func TestOnBufferGroupCompleteWritesFramesToRing(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	writeSyntheticGroup(t, orch, 0, 0)

	timestamps := []uint32{1000, 1100, 1200, 1300}
	orch.OnBufferGroupComplete(0, timestamps, 10_000_000)

	frames := 0
	for {
		if _, ok := orch.Ring().TryRead(); !ok {
			break
		}
		frames++
	}
	assert.Greater(t, frames, 0, "decoded AM824 frames must reach the ring buffer")
}

func TestOnBufferGroupCompleteInvokesGroupCompleteCallback(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	writeSyntheticGroup(t, orch, 1, 0)

	var completed []int
	orch.OnGroupComplete = func(group int) { completed = append(completed, group) }
	orch.OnBufferGroupComplete(1, []uint32{1, 2, 3, 4}, 0)
	assert.Equal(t, []int{1}, completed)
}

func TestOnOverrunStopsReallocatesAndRestarts(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	require.NoError(t, orch.StartReceive(context.Background()))

	var messages []MessageKind
	orch.OnMessage = func(m Message) { messages = append(messages, m.Kind) }

	orch.OnOverrun(context.Background())

	assert.Equal(t, 2, port.bindCalls, "overrun recovery must re-bind a freshly allocated program")
	assert.GreaterOrEqual(t, port.fixupCalls, 1)
	assert.Equal(t, 2, port.startCalls, "overrun recovery must restart the port")
	assert.True(t, orch.running)
	assert.Contains(t, messages, MessageOverrun)
}

func TestOnOverrunReportsFatalWhenRestartFails(t *testing.T) {
	port := &stubPort{}
	orch, err := NewOrchestrator(context.Background(), testConfig(), port, &stubClock{})
	require.NoError(t, err)
	require.NoError(t, orch.StartReceive(context.Background()))

	port.startErr = errors.New("channel busy")
	var messages []MessageKind
	orch.OnMessage = func(m Message) { messages = append(messages, m.Kind) }

	orch.OnOverrun(context.Background())
	assert.False(t, orch.running)
	assert.Contains(t, messages, MessageFatalError)
}
