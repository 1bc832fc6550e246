// Package transferstate gives partialfile.State a concrete,
// persistable form so a caller can save it across a reboot and hand
// it back to partialfile.Open to resume a transfer. The core package
// deliberately leaves serialization to its caller; this package is
// the one idiomatic choice this repository makes for it.
package transferstate

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/octoferry/partialfile/pkg/partialfile"
)

// document is the on-disk shape of a partialfile.State. ValidPart is
// written as a two-element [start, end] array rather than an object,
// since the pair has no use outside that ordering and the shorter
// encoding is easier to eyeball in a resume file.
type document struct {
	TotalSize uint64     `json:"total_size"`
	ValidHead *[2]uint64 `json:"valid_head,omitempty"`
	ValidTail *[2]uint64 `json:"valid_tail,omitempty"`
}

// Marshal encodes a partialfile.State as JSON.
func Marshal(state partialfile.State) ([]byte, error) {
	doc := document{TotalSize: state.TotalSize}
	if state.ValidHead != nil {
		doc.ValidHead = &[2]uint64{state.ValidHead.Start, state.ValidHead.End}
	}
	if state.ValidTail != nil {
		doc.ValidTail = &[2]uint64{state.ValidTail.Start, state.ValidTail.End}
	}
	return json.Marshal(doc)
}

// Unmarshal decodes a partialfile.State previously produced by
// Marshal. The TotalSize it carries is advisory only: partialfile.Open
// overwrites it with the extent's actual size.
func Unmarshal(data []byte) (partialfile.State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return partialfile.State{}, status.Errorf(codes.InvalidArgument, "failed to decode transfer state: %s", err)
	}

	state := partialfile.State{TotalSize: doc.TotalSize}
	if doc.ValidHead != nil {
		state.ValidHead = &partialfile.ValidPart{Start: doc.ValidHead[0], End: doc.ValidHead[1]}
	}
	if doc.ValidTail != nil {
		state.ValidTail = &partialfile.ValidPart{Start: doc.ValidTail[0], End: doc.ValidTail[1]}
	}
	return state, nil
}
