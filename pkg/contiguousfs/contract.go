// Package contiguousfs provides the filesystem-side contract a
// partialfile.PartialFile uses to obtain a contiguous byte extent and
// pin it against reallocation, plus a bitmap-allocator-backed
// reference implementation usable without a real FAT volume.
package contiguousfs

// FileSystem is the capability set spec'd out as "the filesystem
// contract": allocate a contiguous extent up front, or reattach to
// one that was allocated earlier.
type FileSystem interface {
	// Create pre-allocates sizeBytes of contiguous space for path and
	// returns a handle to it. It fails if that much contiguous space
	// isn't available, or if path already names an extent.
	Create(path string, sizeBytes uint64) (File, error)

	// Open reattaches to a previously created extent.
	Open(path string) (File, error)
}

// File is an open handle to a (hopefully) contiguous extent. LUN,
// FirstSectorNbr and TotalSizeBytes are only meaningful once the
// extent is known to be contiguous; callers must check IsContiguous
// first.
type File interface {
	LUN() uint32
	FirstSectorNbr() uint32
	TotalSizeBytes() uint64
	IsContiguous() bool

	// Pin closes this handle and reopens the same extent read-only,
	// returning a DescriptorPin that keeps the extent from being
	// reallocated or deleted out from under an in-progress transfer.
	Pin() (DescriptorPin, error)

	Close() error
}

// DescriptorPin is a read-only handle held purely to keep an extent
// alive and to let the owner cheaply re-verify that the medium behind
// it hasn't changed.
type DescriptorPin interface {
	// Poke forces a re-check that the medium this pin was issued
	// against is still present and is still the same medium. It is
	// meant to be called immediately before every sector submission.
	Poke() error

	Close() error
}
