package partialfile

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"

	"github.com/octoferry/partialfile/pkg/blockdevice"
	"github.com/octoferry/partialfile/pkg/contiguousfs"
)

// SectorSize is the fixed sector size every block device this package
// writes to must report. It is asserted against
// blockdevice.Submitter.SectorSizeBytes at construction time; a
// mismatch is a programmer error, not a runtime condition a caller
// can recover from, since every offset-to-LBA computation in this
// package assumes it.
const SectorSize = 512

const (
	defaultSectorPoolSize = 4
	defaultSectorTimeout  = 5 * time.Second
)

// Options configures the collaborators a PartialFile uses besides the
// contiguousfs.FileSystem and blockdevice.Submitter passed explicitly
// to Create/Open. The zero value is a usable default.
type Options struct {
	// PoolSize is the number of sector buffers held in the
	// SectorPool. Defaults to 4.
	PoolSize int

	// SectorTimeout bounds how long Acquire/Sync wait for a slot to
	// free up. Defaults to 5 seconds.
	SectorTimeout time.Duration

	// Clock measures SectorTimeout. Defaults to clock.SystemClock.
	Clock clock.Clock

	// ErrorLogger receives asynchronous sector write failures. May be
	// nil, in which case they are only visible through WriteError.
	ErrorLogger util.ErrorLogger
}

// PartialFile streams bytes onto a contiguous extent at raw sector
// granularity, tracking which byte ranges are known valid so the
// transfer can be resumed after an interruption.
type PartialFile struct {
	submitter   blockdevice.Submitter
	errorLogger util.ErrorLogger
	pool        *SectorPool

	file           contiguousfs.File
	pin            contiguousfs.DescriptorPin
	firstSectorNbr uint32

	writeError atomic.Bool

	current       *blockdevice.SectorRequest
	currentSlot   int
	currentOffset uint64

	state State

	lastProgressPercent int32

	closed bool
}

// Create allocates a new sizeBytes-long contiguous extent at path on
// fs and returns a PartialFile ready to be written from offset 0.
func Create(fs contiguousfs.FileSystem, submitter blockdevice.Submitter, path string, sizeBytes uint64, opts Options) (*PartialFile, error) {
	file, err := fs.Create(path, sizeBytes)
	if err != nil {
		return nil, err
	}
	return newPartialFile(file, submitter, State{}, opts)
}

// Open reattaches to the extent at path on fs, resuming from the
// supplied state. state.TotalSize is overwritten with the extent's
// actual size once opened.
func Open(fs contiguousfs.FileSystem, submitter blockdevice.Submitter, path string, state State, opts Options) (*PartialFile, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, ErrFailedToOpenFile
	}
	return newPartialFile(file, submitter, state, opts)
}

func newPartialFile(file contiguousfs.File, submitter blockdevice.Submitter, state State, opts Options) (*PartialFile, error) {
	if submitter.SectorSizeBytes() != SectorSize {
		file.Close()
		panic(fmt.Sprintf("partialfile: block device reports sector size %d, expected %d", submitter.SectorSizeBytes(), SectorSize))
	}

	if !file.IsContiguous() {
		file.Close()
		return nil, ErrFileIsNotContiguous
	}

	state.TotalSize = file.TotalSizeBytes()

	pin, err := file.Pin()
	if err != nil {
		file.Close()
		return nil, ErrCantLockFileInPlace
	}

	cl := opts.Clock
	if cl == nil {
		cl = clock.SystemClock
	}
	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = defaultSectorPoolSize
	}
	timeout := opts.SectorTimeout
	if timeout == 0 {
		timeout = defaultSectorTimeout
	}

	return &PartialFile{
		submitter:           submitter,
		errorLogger:         opts.ErrorLogger,
		pool:                NewSectorPool(file.LUN(), poolSize, SectorSize, cl, timeout),
		file:                file,
		pin:                 pin,
		firstSectorNbr:      file.FirstSectorNbr(),
		state:               state,
		lastProgressPercent: -1,
	}, nil
}

// State returns a copy of the PartialFile's current progress record,
// suitable for persisting with pkg/transferstate.
func (f *PartialFile) State() State {
	return f.state
}

// WriteError reports whether the completion callback of any submitted
// sector has reported failure. A synchronous Submit failure does not
// set it; that is reported only by Write or Sync returning false.
func (f *PartialFile) WriteError() bool {
	return f.writeError.Load()
}

// getSectorNbr maps a byte offset to its absolute LBA. Offsets at or
// past the end of the file get one extra LBA added, so the end offset
// never maps onto the last real sector, even when the file ends
// partway through that sector.
func (f *PartialFile) getSectorNbr(offset uint64) uint32 {
	sector := f.firstSectorNbr + uint32(offset/SectorSize)
	if offset >= f.state.TotalSize {
		sector++
	}
	return sector
}

func (f *PartialFile) byteOffsetForSector(sectorNbr uint32) uint64 {
	return uint64(sectorNbr-f.firstSectorNbr) * SectorSize
}

// Seek changes the logical write position. If a sector is currently
// buffered and the new offset maps to the same LBA, it is retained;
// otherwise it is discarded unsubmitted and any partially written
// content in it is lost. Seek never fails.
func (f *PartialFile) Seek(offset uint64) {
	if f.current != nil && f.current.SectorNbr == f.getSectorNbr(offset) {
		f.currentOffset = offset
		return
	}
	f.discardCurrentSector()
	f.currentOffset = offset
}

func (f *PartialFile) discardCurrentSector() {
	if f.current != nil {
		f.pool.Release(f.currentSlot)
		f.current = nil
	}
}

// Write streams data into the file starting at the current offset,
// submitting filled sectors to the block layer as it crosses sector
// boundaries. It returns false immediately if WriteError is already
// set, or as soon as a submission fails; asynchronous
// completion failures surface only through WriteError and are seen by
// a later Write or Sync call.
func (f *PartialFile) Write(data []byte) bool {
	if f.writeError.Load() {
		return false
	}

	for len(data) > 0 {
		if f.current == nil {
			if f.currentOffset >= f.state.TotalSize {
				log.Printf("partialfile: write past end of file attempted at offset %d", f.currentOffset)
				return false
			}
			req, slot, ok := f.pool.Acquire()
			if !ok {
				return false
			}
			req.SectorNbr = f.getSectorNbr(f.currentOffset)
			f.current = req
			f.currentSlot = slot
		}

		sectorOffset := f.currentOffset % SectorSize
		sectorRemaining := uint64(SectorSize) - sectorOffset
		writeSize := uint64(len(data))
		if writeSize > sectorRemaining {
			writeSize = sectorRemaining
		}
		copy(f.current.Data[sectorOffset:], data[:writeSize])

		nextOffset := f.currentOffset + writeSize
		if nextOffset > f.state.TotalSize {
			panic(fmt.Sprintf("partialfile: write requested past end of file (offset %d, size %d, total size %d)", f.currentOffset, writeSize, f.state.TotalSize))
		}

		if f.getSectorNbr(nextOffset) != f.current.SectorNbr {
			req, slot := f.current, f.currentSlot
			f.current = nil
			if !f.submitSector(req, slot) {
				return false
			}
		}

		f.currentOffset = nextOffset
		data = data[writeSize:]
	}
	return true
}

// submitSector pokes the descriptor pin to re-verify medium identity,
// then hands req to the block layer. On success it optimistically
// extends the valid range for the bytes this sector covers; the
// eventual completion status is only reflected in WriteError, not in
// the already-extended range.
func (f *PartialFile) submitSector(req *blockdevice.SectorRequest, slot int) bool {
	if err := f.pin.Poke(); err != nil {
		f.pool.Release(slot)
		return false
	}

	req.Callback = sectorWriteCompleted
	req.CallbackParam1 = f
	req.CallbackParam2 = slot

	if err := f.submitter.Submit(req); err != nil {
		f.pool.Release(slot)
		return false
	}
	sectorsSubmittedTotal.Inc()

	start := f.byteOffsetForSector(req.SectorNbr)
	end := start + SectorSize
	if end > f.state.TotalSize {
		end = f.state.TotalSize
	}
	f.extendValidPart(ValidPart{Start: start, End: end})
	return true
}

// sectorWriteCompleted is the CompletionCallback installed on every
// submitted SectorRequest. It is the free-function half of the
// PartialFile/SectorPool back-reference: the owning PartialFile is
// recovered from param1 purely to set its sticky failure flag, while
// the pool slot is always released regardless of outcome.
func sectorWriteCompleted(status error, param1, param2 any) {
	f := param1.(*PartialFile)
	slot := param2.(int)

	if status != nil {
		f.writeError.Store(true)
		sectorWriteErrorsTotal.Inc()
		if f.errorLogger != nil {
			f.errorLogger.Log(util.StatusWrap(status, "Sector write failed"))
		}
	}
	f.pool.Release(slot)
}

// Sync guarantees every previously submitted sector is durable and,
// if a sector is currently being filled, flushes its present content
// without losing the ability to keep appending to it.
func (f *PartialFile) Sync() bool {
	syncAvoid := 0
	if f.current != nil {
		syncAvoid = 1

		copyReq, copySlot, ok := f.pool.Acquire()
		if !ok {
			return false
		}
		copy(copyReq.Data, f.current.Data)
		copyReq.SectorNbr = f.current.SectorNbr

		submitReq, submitSlot := f.current, f.currentSlot
		f.current, f.currentSlot = copyReq, copySlot

		if !f.submitSector(submitReq, submitSlot) {
			return false
		}
	}

	if !f.pool.Sync(syncAvoid) {
		return false
	}
	return !f.writeError.Load()
}

// Close discards any unsubmitted current sector, waits for every
// in-flight write to complete, and releases the descriptor pin. It is
// safe to call more than once.
func (f *PartialFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	f.discardCurrentSector()
	f.Sync()

	pinErr := f.pin.Close()
	fileErr := f.file.Close()
	if pinErr != nil {
		return pinErr
	}
	return fileErr
}

// HasValidHead reports whether at least n leading bytes are known
// valid.
func (f *PartialFile) HasValidHead(n uint64) bool {
	return f.state.HasValidHead(n)
}

// HasValidTail reports whether at least n trailing bytes are known
// valid.
func (f *PartialFile) HasValidTail(n uint64) bool {
	return f.state.HasValidTail(n)
}

func (f *PartialFile) extendValidPart(newPart ValidPart) {
	percent := int32(f.state.extend(newPart))
	if percent != f.lastProgressPercent {
		f.emitProgress(percent)
		f.lastProgressPercent = percent
	}
}

const progressBarWidth = 40

func (f *PartialFile) emitProgress(percent int32) {
	var bar [progressBarWidth]byte
	for i := range bar {
		bar[i] = '-'
	}

	if f.state.TotalSize > 0 {
		var headEnd uint64
		if f.state.ValidHead != nil {
			headEnd = f.state.ValidHead.End
		}
		headChars := int(uint64(progressBarWidth) * headEnd / f.state.TotalSize)
		for i := 0; i < headChars && i < progressBarWidth; i++ {
			bar[i] = '#'
		}

		tailStart := f.state.TotalSize
		if f.state.ValidTail != nil {
			tailStart = f.state.ValidTail.Start
		}
		tailChars := int(uint64(progressBarWidth) * (f.state.TotalSize - tailStart) / f.state.TotalSize)
		for i := 0; i < tailChars && i < progressBarWidth; i++ {
			bar[progressBarWidth-1-i] = '#'
		}
	}

	log.Printf("partialfile: %s %d%%", string(bar[:]), percent)
	transferProgressPercent.Set(float64(percent))
}
