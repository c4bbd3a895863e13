package token

import "errors"

// Verification failures, each a distinct reportable reason. Verify
// short-circuits on the first failure in decode → integrity → structure →
// freshness order.
var (
	// ErrMalformedEncoding means the wire string is not a protocol envelope:
	// text-decoding, decompression or structural parsing failed.
	ErrMalformedEncoding = errors.New("malformed pass encoding")
	// ErrTampered means the signature does not match the payload bytes.
	ErrTampered = errors.New("pass signature mismatch")
	// ErrIncompletePayload means a required payload field is missing or malformed.
	ErrIncompletePayload = errors.New("incomplete pass payload")
	// ErrFutureTimestamp means the pass claims to be issued in the future.
	ErrFutureTimestamp = errors.New("pass issued in the future")
	// ErrExpired means the pass is older than the validity window.
	ErrExpired = errors.New("pass expired")
)

// Kind returns the machine-distinguishable kind string for a verification
// error, or "" for errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEncoding):
		return "malformed_encoding"
	case errors.Is(err, ErrTampered):
		return "tampered"
	case errors.Is(err, ErrIncompletePayload):
		return "incomplete_payload"
	case errors.Is(err, ErrFutureTimestamp):
		return "future_timestamp"
	case errors.Is(err, ErrExpired):
		return "expired"
	}
	return ""
}
