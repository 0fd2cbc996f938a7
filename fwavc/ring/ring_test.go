package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNewRoundsCapacityUpToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, New(0).Cap())
	assert.Equal(t, 8, New(5).Cap())
	assert.Equal(t, 16, New(16).Cap())
	assert.Equal(t, 32, New(17).Cap())
}

func TestWriteThenReadReturnsSameFrame(t *testing.T) {
	b := New(4)
	f := Frame{Left: 0.5, Right: -0.25, PresentationNanos: 12345}
	assert.True(t, b.Write(f))
	got, ok := b.TryRead()
	assert.True(t, ok)
	assert.Equal(t, f, got)
}

func TestTryReadOnEmptyReturnsFalse(t *testing.T) {
	b := New(4)
	_, ok := b.TryRead()
	assert.False(t, ok)
}

func TestWriteFailsWhenFull(t *testing.T) {
	b := New(2) // rounds to 2
	assert.True(t, b.Write(Frame{Left: 1}))
	assert.True(t, b.Write(Frame{Left: 2}))
	assert.False(t, b.Write(Frame{Left: 3}), "producer must never block; a full ring drops the frame")
}

func TestLenTracksUnreadFrames(t *testing.T) {
	b := New(8)
	assert.Equal(t, 0, b.Len())
	b.Write(Frame{Left: 1})
	b.Write(Frame{Left: 2})
	assert.Equal(t, 2, b.Len())
	b.TryRead()
	assert.Equal(t, 1, b.Len())
}

// TestSingleProducerSingleConsumerPreservesOrder checks the SPSC invariant
// (spec.md §8 property 6): frames drained by the one consumer goroutine come
// out in the exact order the one producer goroutine wrote them, for however
// many of them the ring accepts (Write drops the new frame when the ring is
// full, so frames may be missing, but what is delivered is never
// reordered). It checks ordering only, not that no frame is lost.
func TestSingleProducerSingleConsumerPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		count := rapid.IntRange(0, 500).Draw(t, "count")

		b := New(capacity)
		var wg sync.WaitGroup
		wg.Add(2)

		producerDone := make(chan struct{})
		go func() {
			defer wg.Done()
			defer close(producerDone)
			for i := 0; i < count; i++ {
				b.Write(Frame{Left: float32(i), PresentationNanos: uint64(i)})
			}
		}()

		var received []uint64
		go func() {
			defer wg.Done()
			for {
				if f, ok := b.TryRead(); ok {
					received = append(received, f.PresentationNanos)
					continue
				}
				select {
				case <-producerDone:
					return // producer finished and the last TryRead above found nothing left
				default:
				}
			}
		}()

		wg.Wait()

		for i := 1; i < len(received); i++ {
			assert.Less(t, received[i-1], received[i], "consumer observed frames out of producer order")
		}
	})
}
