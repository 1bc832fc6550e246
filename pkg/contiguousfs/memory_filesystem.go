package contiguousfs

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MemoryFileSystem is a FileSystem reference implementation backed by
// a single sectorAllocator. It stands in for the FAT driver the
// original design depends on: it allocates one contiguous run per
// path, reports that run's absolute first LBA and size, and can hand
// out a DescriptorPin that detects when the backing medium has been
// swapped out from under it.
//
// openPins counts outstanding DescriptorPins. Poke refuses to
// validate a pin once its own handle has been closed, even if the
// generation it captured still matches, since a closed pin no longer
// represents a live claim on the medium.
type MemoryFileSystem struct {
	lun             uint32
	baseSectorNbr   uint32
	sectorSizeBytes int
	allocator       *sectorAllocator

	lock       sync.Mutex
	extents    map[string]*extent
	generation uint64
	openPins   uint
}

type extent struct {
	firstSectorNbr uint32 // 1-based, as returned by sectorAllocator
	sectorCount    uint32
	totalSizeBytes uint64
	contiguous     bool
}

// NewMemoryFileSystem creates a medium of sectorCount sectors, each
// sectorSizeBytes long, addressed on lun. baseSectorNbr is the absolute
// LBA of the allocator's first sector (allocator sector 1), so
// File.FirstSectorNbr reports baseSectorNbr plus the allocator-relative
// sector number minus one, playing the role that a FAT
// volume's data-region offset plays in a real filesystem driver.
func NewMemoryFileSystem(lun uint32, baseSectorNbr, sectorCount uint32, sectorSizeBytes int) *MemoryFileSystem {
	return &MemoryFileSystem{
		lun:             lun,
		baseSectorNbr:   baseSectorNbr,
		sectorSizeBytes: sectorSizeBytes,
		allocator:       newSectorAllocator(sectorCount),
		extents:         map[string]*extent{},
	}
}

func (fs *MemoryFileSystem) Create(path string, sizeBytes uint64) (File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if _, exists := fs.extents[path]; exists {
		return nil, status.Error(codes.Unavailable, "Failed to write to location")
	}

	sectorCount := uint32((sizeBytes + uint64(fs.sectorSizeBytes) - 1) / uint64(fs.sectorSizeBytes))
	if sectorCount == 0 {
		sectorCount = 1
	}
	first, ok := fs.allocator.AllocateContiguous(sectorCount)
	if !ok {
		return nil, status.Error(codes.ResourceExhausted, "USB drive full")
	}

	e := &extent{
		firstSectorNbr: first,
		sectorCount:    sectorCount,
		totalSizeBytes: sizeBytes,
		contiguous:     true,
	}
	fs.extents[path] = e
	return &memoryFile{fs: fs, path: path, extent: e}, nil
}

func (fs *MemoryFileSystem) Open(path string) (File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	e, ok := fs.extents[path]
	if !ok {
		return nil, status.Error(codes.Unavailable, "Failed to open file")
	}
	return &memoryFile{fs: fs, path: path, extent: e}, nil
}

// SimulateReplug bumps the medium's generation counter, as if the
// device had been unplugged and a different one plugged in in its
// place. Every DescriptorPin issued before this call fails its next
// Poke.
func (fs *MemoryFileSystem) SimulateReplug() {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.generation++
}

type memoryFile struct {
	fs     *MemoryFileSystem
	path   string
	extent *extent
	closed bool
}

func (f *memoryFile) LUN() uint32 {
	return f.fs.lun
}

func (f *memoryFile) FirstSectorNbr() uint32 {
	return f.fs.baseSectorNbr + f.extent.firstSectorNbr - 1
}

func (f *memoryFile) TotalSizeBytes() uint64 {
	return f.extent.totalSizeBytes
}

func (f *memoryFile) IsContiguous() bool {
	return f.extent.contiguous
}

func (f *memoryFile) Pin() (DescriptorPin, error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()
	f.fs.openPins++
	f.closed = true
	return &memoryDescriptorPin{fs: f.fs, generation: f.fs.generation}, nil
}

func (f *memoryFile) Close() error {
	f.closed = true
	return nil
}

type memoryDescriptorPin struct {
	fs         *MemoryFileSystem
	generation uint64
	closed     bool
}

// Poke reports an error both when the medium has been swapped out
// since this pin was taken and when the pin has already been closed:
// a closed pin no longer holds a claim on fs.openPins, so treating it
// as still live would let a caller that forgot to check Close's
// return value keep submitting against a medium it no longer holds.
func (p *memoryDescriptorPin) Poke() error {
	p.fs.lock.Lock()
	defer p.fs.lock.Unlock()
	if p.closed {
		return status.Error(codes.FailedPrecondition, "descriptor pin has already been closed")
	}
	if p.generation != p.fs.generation {
		return status.Error(codes.Unavailable, "medium identity changed since the descriptor was pinned")
	}
	return nil
}

func (p *memoryDescriptorPin) Close() error {
	p.fs.lock.Lock()
	defer p.fs.lock.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.fs.openPins == 0 {
		panic("contiguousfs: released a descriptor pin with no outstanding pins on the medium")
	}
	p.fs.openPins--
	return nil
}
