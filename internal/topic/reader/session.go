package reader

import "sync"

// PartitionSession tracks one active (or recently stopped) partition
// subscription, per spec §4.5's StartPartitionSessionRequest handling.
type PartitionSession struct {
	ID          uint64
	PartitionID uint64
	Path        string

	mu                       sync.Mutex
	nextCommitStartOffset    Offset
	partitionCommittedOffset Offset
	startOffset, endOffset   Offset
	stopped                  bool
	ended                    bool

	pending []*PendingCommit
}

// PendingCommit is one in-flight commit() range awaiting server
// acknowledgment.
type PendingCommit struct {
	session     *PartitionSession
	startOffset Offset
	endOffset   Offset
	done        chan error
}

func newPendingCommit(s *PartitionSession, start, end Offset) *PendingCommit {
	return &PendingCommit{session: s, startOffset: start, endOffset: end, done: make(chan error, 1)}
}

// Wait blocks until the commit resolves or ctx-independent completion; the
// caller owns any cancellation via the channel itself.
func (p *PendingCommit) Wait() <-chan error { return p.done }

func (p *PendingCommit) resolve(err error) {
	select {
	case p.done <- err:
	default:
	}
}

func (s *PartitionSession) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// addPending appends a new pending commit to the FIFO tail.
func (s *PartitionSession) addPending(pc *PendingCommit) {
	s.mu.Lock()
	s.pending = append(s.pending, pc)
	s.mu.Unlock()
}

// resolveUpTo resolves and removes every pending commit whose endOffset is
// <= committedOffset, in FIFO order (spec §4.5's CommitOffsetResponse
// handling).
func (s *PartitionSession) resolveUpTo(committed Offset) {
	s.mu.Lock()
	i := 0
	for ; i < len(s.pending); i++ {
		if s.pending[i].endOffset > committed {
			break
		}
	}
	resolved := s.pending[:i]
	s.pending = s.pending[i:]
	if committed > s.partitionCommittedOffset {
		s.partitionCommittedOffset = committed
	}
	s.mu.Unlock()

	for _, pc := range resolved {
		pc.resolve(nil)
	}
}

// rejectAllPending resolves every pending commit with err and clears the
// FIFO (used on reconnect/stop/destroy).
func (s *PartitionSession) rejectAllPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, pc := range pending {
		pc.resolve(err)
	}
}

func (s *PartitionSession) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *PartitionSession) markEnded() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *PartitionSession) setNextCommitStart(o Offset) {
	s.mu.Lock()
	s.nextCommitStartOffset = o
	s.mu.Unlock()
}

func (s *PartitionSession) getNextCommitStart() Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCommitStartOffset
}

func (s *PartitionSession) getCommittedOffset() Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitionCommittedOffset
}

func (s *PartitionSession) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
