package writer

import (
	"sync"

	"github.com/ydb-platform/ydb-go-topic/internal/errs"
)

type seqNoMode int

const (
	modeUnset seqNoMode = iota
	modeAuto
	modeManual
)

// seqNoManager assigns or validates seqnos, enforcing the auto/manual
// exclusivity rule of spec §4.6.
type seqNoManager struct {
	mu   sync.Mutex
	mode seqNoMode
	last int64
}

// adoptLastSeqNo anchors the auto-mode counter to the server's recovered
// value, only while still in Auto mode with no writes yet (spec §4.6 step
// 1) — a no-op once any seqno has actually been assigned.
func (m *seqNoManager) adoptLastSeqNo(lastSeqNo int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == modeUnset && m.last == 0 {
		m.last = lastSeqNo
	}
}

// next assigns a seqno for an auto-mode write (explicit seqno == 0), or
// validates and records a manual seqno. Mixing modes fails with
// SeqNoModeMismatch.
func (m *seqNoManager) next(explicit int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if explicit == 0 {
		if m.mode == modeManual {
			return 0, errs.SeqNoModeMismatch()
		}
		m.mode = modeAuto
		m.last++
		return m.last, nil
	}

	if m.mode == modeAuto {
		return 0, errs.SeqNoModeMismatch()
	}
	if explicit <= m.last {
		return 0, errs.SeqNoModeMismatch()
	}
	m.mode = modeManual
	m.last = explicit
	return explicit, nil
}
