package blockdevice

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoopbackBlockDevice is a BlockDevice backed by a plain in-memory
// byte slice. It plays the role that a real block device driver would
// play underneath pkg/filesystem/pool.NewFilePoolFactoryFromConfiguration
// in the repository this package's dispatch model is adapted from,
// without requiring a real disk or USB controller to exercise the
// submission path end to end.
type LoopbackBlockDevice struct {
	lock    sync.Mutex
	storage []byte
}

// NewLoopbackBlockDevice allocates a zeroed medium of sizeBytes bytes.
func NewLoopbackBlockDevice(sizeBytes int64) *LoopbackBlockDevice {
	return &LoopbackBlockDevice{
		storage: make([]byte, sizeBytes),
	}
}

func (d *LoopbackBlockDevice) ReadAt(p []byte, off int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(d.storage)) {
		return 0, status.Error(codes.OutOfRange, "read is out of bounds of the loopback medium")
	}
	n := copy(p, d.storage[off:])
	return n, nil
}

func (d *LoopbackBlockDevice) WriteAt(p []byte, off int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(d.storage)) {
		return 0, status.Error(codes.OutOfRange, "write is out of bounds of the loopback medium")
	}
	n := copy(d.storage[off:], p)
	return n, nil
}

// SectorCount reports the number of whole sectors the medium holds,
// given sectorSizeBytes.
func (d *LoopbackBlockDevice) SectorCount(sectorSizeBytes int) uint32 {
	return uint32(int64(len(d.storage)) / int64(sectorSizeBytes))
}

// LoopbackSubmitter is the Submitter reference implementation: one
// lunQueue per LUN, created lazily on first use and torn down by
// Close.
type LoopbackSubmitter struct {
	device          BlockDevice
	sectorSizeBytes int
	queueCapacity   int

	lock   sync.Mutex
	queues map[uint32]*lunQueue
	closed bool
}

// NewLoopbackSubmitter wraps device in the Submitter contract,
// dispatching writes for each LUN through its own ordered queue.
// queueCapacity bounds how many outstanding requests a single LUN may
// have buffered before Submit starts failing with ResourceExhausted.
func NewLoopbackSubmitter(device BlockDevice, sectorSizeBytes, queueCapacity int) *LoopbackSubmitter {
	return &LoopbackSubmitter{
		device:          device,
		sectorSizeBytes: sectorSizeBytes,
		queueCapacity:   queueCapacity,
		queues:          map[uint32]*lunQueue{},
	}
}

func (s *LoopbackSubmitter) SectorSizeBytes() int {
	return s.sectorSizeBytes
}

func (s *LoopbackSubmitter) Submit(req *SectorRequest) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return status.Error(codes.Unavailable, "loopback submitter is closed")
	}
	q, ok := s.queues[req.LUN]
	if !ok {
		q = newLUNQueue(s.device, s.sectorSizeBytes, s.queueCapacity)
		s.queues[req.LUN] = q
	}
	s.lock.Unlock()

	return q.submit(req)
}

// Close drains and stops every per-LUN queue. It is not part of the
// Submitter contract; callers that own a *LoopbackSubmitter use the
// concrete type to call it during shutdown.
func (s *LoopbackSubmitter) Close() {
	s.lock.Lock()
	s.closed = true
	queues := make([]*lunQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.lock.Unlock()

	for _, q := range queues {
		q.close()
	}
}
