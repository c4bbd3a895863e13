package sessions

import "errors"

var (
	// ErrNoActiveSession means the presenter has no running session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNonceUsed means the nonce was already consumed for this session.
	ErrNonceUsed = errors.New("nonce already used")
)
