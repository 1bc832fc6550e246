package partialfile

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// These are the caller-visible construction errors a PartialFile may
// return instead of a usable handle. Each wraps the exact message a
// caller-facing diagnostic is expected to show; tests compare against
// freshly constructed values of these rather than shared variables,
// since two status.Error values with the same code and message are
// equal.
var (
	// ErrFailedToOpenFile is returned by Open when the underlying
	// extent cannot be reattached to.
	ErrFailedToOpenFile = status.Error(codes.Unavailable, "Failed to open file")

	// ErrFileIsNotContiguous is returned when the filesystem reports
	// that an extent's data is not laid out as one contiguous run.
	ErrFileIsNotContiguous = status.Error(codes.FailedPrecondition, "File is not contiguous")

	// ErrCantLockFileInPlace is returned when closing the read-write
	// handle and reopening it read-only to obtain the descriptor pin
	// fails.
	ErrCantLockFileInPlace = status.Error(codes.Unavailable, "Can't lock file in place")
)
