package partialfile

import (
	"math/bits"
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"

	"github.com/octoferry/partialfile/pkg/blockdevice"
)

// maxSectorPoolSize bounds how many slots a SectorPool may have,
// since its free/in-use state is tracked in a single uint32 bitmask.
const maxSectorPoolSize = 32

// SectorPool is a fixed-cardinality pool of sector-sized buffers
// shared between the single writer that calls Acquire/Release/Sync
// and the completion callbacks the block layer fires for requests the
// writer has already submitted. Release must never block, since it is
// called directly from those callbacks.
type SectorPool struct {
	clock   clock.Clock
	maxWait time.Duration
	size    int

	lock     sync.Mutex
	slots    []blockdevice.SectorRequest
	slotMask uint32 // bit i set means slot i is in use

	// released is a capacity-1 binary semaphore signalled on every
	// Release. A waiter that finds the pool still unsatisfying after
	// being woken simply re-checks slotMask and goes back to sleep,
	// so a coalesced signal (one send absorbing several Releases)
	// never causes a missed wakeup, only an extra spurious check.
	released chan struct{}
}

// NewSectorPool allocates a pool of size sector buffers of
// sectorSizeBytes each, pre-addressed to lun. Each wait for a Release
// inside Acquire and Sync lasts at most maxWait, measured with cl;
// when one expires they return a zero-value/false result rather than
// an error.
func NewSectorPool(lun uint32, size, sectorSizeBytes int, cl clock.Clock, maxWait time.Duration) *SectorPool {
	if size <= 0 || size > maxSectorPoolSize {
		panic("partialfile: sector pool size must be between 1 and 32")
	}
	slots := make([]blockdevice.SectorRequest, size)
	for i := range slots {
		slots[i] = blockdevice.SectorRequest{
			Operation:   blockdevice.OperationWrite,
			LUN:         lun,
			SectorCount: 1,
			Data:        make([]byte, sectorSizeBytes),
		}
	}
	return &SectorPool{
		clock:    cl,
		maxWait:  maxWait,
		size:     size,
		slots:    slots,
		slotMask: ^uint32(0) << size,
		released: make(chan struct{}, 1),
	}
}

// availableSlot returns the lowest-indexed free slot, mirroring the
// count-trailing-ones scan this pool's lineage uses over the
// complemented mask.
func (p *SectorPool) availableSlot() (int, bool) {
	if free := ^p.slotMask; free != 0 {
		return bits.TrailingZeros32(free), true
	}
	return 0, false
}

func (p *SectorPool) usedCountLocked() int {
	lowMask := uint32(1)<<p.size - 1
	return bits.OnesCount32(p.slotMask & lowMask)
}

// Acquire obtains an exclusive slot, returning its (zeroed) request
// and index. ok is false if no slot became free within maxWait.
func (p *SectorPool) Acquire() (req *blockdevice.SectorRequest, slot int, ok bool) {
	for {
		p.lock.Lock()
		if s, found := p.availableSlot(); found {
			p.slotMask |= 1 << uint(s)
			r := &p.slots[s]
			p.lock.Unlock()
			clear(r.Data)
			r.Status = nil
			r.Callback = nil
			return r, s, true
		}
		p.lock.Unlock()

		if !p.wait() {
			return nil, 0, false
		}
	}
}

// Release marks slot free. It is safe to call from a completion
// callback running on a goroutine other than the one that called
// Acquire.
func (p *SectorPool) Release(slot int) {
	p.lock.Lock()
	p.slotMask &^= 1 << uint(slot)
	p.lock.Unlock()

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Sync waits until at most avoid slots are in use, i.e. (size - avoid)
// are free. It returns false once maxWait passes with no Release
// while more than avoid slots are still in use; every Release starts
// a fresh wait, so the total time spent can exceed maxWait.
func (p *SectorPool) Sync(avoid int) bool {
	for {
		p.lock.Lock()
		used := p.usedCountLocked()
		p.lock.Unlock()
		if used <= avoid {
			return true
		}
		if !p.wait() {
			return false
		}
	}
}

// wait blocks for at most maxWait for a Release to occur, returning
// false on timeout.
func (p *SectorPool) wait() bool {
	timer, timerChannel := p.clock.NewTimer(p.maxWait)
	select {
	case <-p.released:
		timer.Stop()
		return true
	case <-timerChannel:
		return false
	}
}
