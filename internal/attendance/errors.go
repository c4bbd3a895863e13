package attendance

import (
	"errors"

	"github.com/veriloc/backend/internal/token"
)

// Redemption failures beyond the pass verification taxonomy. All are terminal
// for the triggering request; none are retried by the pipeline.
var (
	// ErrUnknownSession means the pass references a session that does not exist.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionClosed means the referenced session is no longer active.
	ErrSessionClosed = errors.New("session closed")
	// ErrPresenterMismatch means the pass payload names a different presenter
	// than the session it references.
	ErrPresenterMismatch = errors.New("presenter mismatch")
	// ErrReplay means the pass nonce was already consumed.
	ErrReplay = errors.New("pass already scanned")
	// ErrCohortMismatch means the attendee's department does not match the
	// cohort's required department.
	ErrCohortMismatch = errors.New("department not enrolled in cohort")
	// ErrDuplicateRecord means attendance was already marked for this
	// attendee, cohort and day. Raised by the storage uniqueness constraint,
	// which is the authoritative defense against double-marking.
	ErrDuplicateRecord = errors.New("attendance already marked today")
)

// Kind returns the machine-distinguishable kind for any redemption error,
// covering both pass verification and pipeline failures. Unexpected internal
// failures map to "internal", which signals no protocol invariant was
// violated and the caller may retry with a fresh pass.
func Kind(err error) string {
	if k := token.Kind(err); k != "" {
		return k
	}
	switch {
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrPresenterMismatch):
		return "presenter_mismatch"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrCohortMismatch):
		return "cohort_mismatch"
	case errors.Is(err, ErrDuplicateRecord):
		return "duplicate_record"
	}
	return "internal"
}
