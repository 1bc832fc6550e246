package blockdevice

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// lunQueue dispatches SectorRequests addressed to a single LUN on one
// dedicated goroutine, so that requests complete in the order they
// were submitted. A shared worker pool draining one channel across
// multiple LUNs cannot make that guarantee, since two workers could
// pick up two requests for the same LUN in either order; pinning each
// LUN to exactly one goroutine makes the ordering a property of the
// scheduling model rather than something callers have to coordinate.
type lunQueue struct {
	device          BlockDevice
	sectorSizeBytes int
	pending         chan *SectorRequest
	done            chan struct{}
}

// BlockDevice is the subset of github.com/buildbarn/bb-storage/pkg/blockdevice.BlockDevice
// that this package uses: ReadAt and WriteAt, of which dispatching a
// sector write calls only WriteAt. A loopback or hardware-backed
// implementation of the full interface can be used here unchanged.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
}

func newLUNQueue(device BlockDevice, sectorSizeBytes, queueCapacity int) *lunQueue {
	q := &lunQueue{
		device:          device,
		sectorSizeBytes: sectorSizeBytes,
		pending:         make(chan *SectorRequest, queueCapacity),
		done:            make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *lunQueue) run() {
	defer close(q.done)
	for req := range q.pending {
		off := int64(req.SectorNbr) * int64(q.sectorSizeBytes)
		_, err := q.device.WriteAt(req.Data[:q.sectorSizeBytes], off)
		req.Status = err
		if req.Callback != nil {
			req.Callback(err, req.CallbackParam1, req.CallbackParam2)
		}
	}
}

// submit enqueues req without blocking. It fails once the queue's
// backlog is full, which stands in for the block layer's own
// submission queue being saturated.
func (q *lunQueue) submit(req *SectorRequest) error {
	select {
	case q.pending <- req:
		return nil
	default:
		return status.Error(codes.ResourceExhausted, "sector submission queue is full")
	}
}

func (q *lunQueue) close() {
	close(q.pending)
	<-q.done
}
