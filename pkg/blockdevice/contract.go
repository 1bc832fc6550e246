// Package blockdevice provides the submission-side contract a
// partialfile.PartialFile uses to get sector writes onto a physical
// medium, plus a loopback reference implementation for tests and
// local tooling.
package blockdevice

// Operation identifies the kind of access a SectorRequest performs.
// The only operation a partial file ever issues is a write, but the
// type is kept open for symmetry with the rest of the contract.
type Operation int

const (
	// OperationWrite writes SectorRequest.Data to SectorRequest.SectorNbr.
	OperationWrite Operation = iota
)

// CompletionCallback is invoked once a SectorRequest's outcome is
// known. status is nil on success. param1 and param2 are opaque to
// this package; callers use them to recover the request's owner and
// the pool slot it came from without a second lookup.
type CompletionCallback func(status error, param1, param2 any)

// SectorRequest describes a single-sector write. Callers reuse the
// same SectorRequest value across many submissions, which is why
// Data is sized once and Status/Callback are overwritten per call
// rather than being set at construction time.
type SectorRequest struct {
	Operation Operation
	LUN       uint32

	// SectorCount is always 1 for the writes this package issues,
	// but is kept as a field because Submitter implementations that
	// wrap real block-device APIs generally expect a count alongside
	// a starting sector.
	SectorCount int
	SectorNbr   uint32
	Data        []byte

	// Status holds the outcome of the most recent submission of this
	// request, for inspection after the Callback has already fired.
	Status error

	Callback       CompletionCallback
	CallbackParam1 any
	CallbackParam2 any
}

// Submitter is the capability a partial file needs from the block
// layer: know the device's fixed sector size, and accept single
// sector write requests whose eventual outcome arrives through
// SectorRequest.Callback rather than as a return value.
//
// Submit returns a non-nil error only when the request never reached
// the device's submission queue (queue full, LUN unknown, device
// closed); in that case Callback is never invoked for this call.
// Every request that is accepted is eventually completed exactly
// once, successfully or not, by a call to its Callback.
type Submitter interface {
	SectorSizeBytes() int
	Submit(req *SectorRequest) error
}
