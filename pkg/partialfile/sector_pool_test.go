package partialfile

import (
	"testing"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/stretchr/testify/require"
)

const testPoolTimeout = 30 * time.Millisecond

func TestSectorPoolAcquireRelease(t *testing.T) {
	t.Run("HandsOutLowestFreeSlotFirst", func(t *testing.T) {
		p := NewSectorPool(0, 4, 512, clock.SystemClock, testPoolTimeout)

		_, slot0, ok := p.Acquire()
		require.True(t, ok)
		require.Equal(t, 0, slot0)

		_, slot1, ok := p.Acquire()
		require.True(t, ok)
		require.Equal(t, 1, slot1)

		p.Release(slot0)

		_, slot2, ok := p.Acquire()
		require.True(t, ok)
		require.Equal(t, 0, slot2)
	})

	t.Run("AcquireZeroesData", func(t *testing.T) {
		p := NewSectorPool(0, 2, 512, clock.SystemClock, testPoolTimeout)
		req, slot, ok := p.Acquire()
		require.True(t, ok)
		req.Data[0] = 0xFF
		p.Release(slot)

		req2, _, ok := p.Acquire()
		require.True(t, ok)
		require.Equal(t, byte(0), req2.Data[0])
	})

	t.Run("TimesOutWhenExhausted", func(t *testing.T) {
		p := NewSectorPool(0, 1, 512, clock.SystemClock, testPoolTimeout)
		_, _, ok := p.Acquire()
		require.True(t, ok)

		start := time.Now()
		_, _, ok = p.Acquire()
		require.False(t, ok)
		require.GreaterOrEqual(t, time.Since(start), testPoolTimeout)
	})

	t.Run("UnblocksAsSoonAsASlotIsReleased", func(t *testing.T) {
		p := NewSectorPool(0, 1, 512, clock.SystemClock, time.Second)
		_, slot, ok := p.Acquire()
		require.True(t, ok)

		go func() {
			time.Sleep(5 * time.Millisecond)
			p.Release(slot)
		}()

		start := time.Now()
		_, _, ok = p.Acquire()
		require.True(t, ok)
		require.Less(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestSectorPoolSync(t *testing.T) {
	t.Run("ReturnsImmediatelyWhenAlreadyDrained", func(t *testing.T) {
		p := NewSectorPool(0, 4, 512, clock.SystemClock, testPoolTimeout)
		require.True(t, p.Sync(0))
	})

	t.Run("WaitsForAvoidCountToRemain", func(t *testing.T) {
		p := NewSectorPool(0, 2, 512, clock.SystemClock, testPoolTimeout)
		_, slot0, ok := p.Acquire()
		require.True(t, ok)
		_, slot1, ok := p.Acquire()
		require.True(t, ok)

		// Both slots are held; Sync(1) should time out since it
		// needs one free.
		require.False(t, p.Sync(1))

		p.Release(slot0)
		require.True(t, p.Sync(1))

		p.Release(slot1)
		require.True(t, p.Sync(0))
	})
}
