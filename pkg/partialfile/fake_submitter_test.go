package partialfile

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/octoferry/partialfile/pkg/blockdevice"
)

// fakeSubmitter is a hand-written blockdevice.Submitter used in place
// of a generated mock: it records every request passed to Submit
// (including one it then rejects synchronously) and, unless told to
// reject a specific 0-indexed submission, completes it inline before
// Submit returns. Completing inline keeps these tests
// deterministic without needing a real background dispatch goroutine.
type fakeSubmitter struct {
	sectorSizeBytes int

	mu          sync.Mutex
	submissions []submittedSector
	n           int

	// failSubmitAt, when >= 0, makes the submission at that index
	// return a synchronous error instead of reaching the device.
	failSubmitAt int
	// failCompletionAt, when >= 0, makes the submission at that
	// index's callback report failure instead of success.
	failCompletionAt int
}

type submittedSector struct {
	LUN       uint32
	SectorNbr uint32
	Data      []byte
}

func newFakeSubmitter(sectorSizeBytes int) *fakeSubmitter {
	return &fakeSubmitter{
		sectorSizeBytes:  sectorSizeBytes,
		failSubmitAt:     -1,
		failCompletionAt: -1,
	}
}

func (s *fakeSubmitter) SectorSizeBytes() int {
	return s.sectorSizeBytes
}

func (s *fakeSubmitter) Submit(req *blockdevice.SectorRequest) error {
	s.mu.Lock()
	index := s.n
	s.n++
	data := make([]byte, len(req.Data))
	copy(data, req.Data)
	s.submissions = append(s.submissions, submittedSector{LUN: req.LUN, SectorNbr: req.SectorNbr, Data: data})
	s.mu.Unlock()

	if index == s.failSubmitAt {
		return status.Error(codes.Unavailable, "injected synchronous submission failure")
	}

	var completionErr error
	if index == s.failCompletionAt {
		completionErr = status.Error(codes.DataLoss, "injected completion failure")
	}
	if req.Callback != nil {
		req.Callback(completionErr, req.CallbackParam1, req.CallbackParam2)
	}
	return nil
}

func (s *fakeSubmitter) sectorNbrs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nbrs := make([]uint32, len(s.submissions))
	for i, sub := range s.submissions {
		nbrs[i] = sub.SectorNbr
	}
	return nbrs
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}
