package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// FormatVersion is the current pass payload format version.
const FormatVersion = 1

// nonceBytes is the entropy of a pass nonce; rendered as fixed-width hex.
const nonceBytes = 16

// Payload is the structured content of an attendance pass. It is ephemeral
// and never persisted; only the attendance record produced from it is.
//
// Field order is the canonical serialization order: encoding/json marshals
// struct fields in declaration order, so the signature is always computed
// over the same byte sequence for a given payload.
type Payload struct {
	Version     int    `json:"v"`
	SessionID   string `json:"sid"`
	PresenterID string `json:"pid"`
	CohortCode  string `json:"cohort"`
	IssuedAt    int64  `json:"iat"`
	Nonce       string `json:"nonce"`
}

// NewNonce returns a fresh random nonce as a fixed-width hex string.
func NewNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// validate checks that all required fields are present and well formed.
func (p *Payload) validate() error {
	if p.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version", ErrIncompletePayload)
	}
	if _, err := uuid.Parse(p.SessionID); err != nil {
		return fmt.Errorf("%w: bad session id", ErrIncompletePayload)
	}
	if _, err := uuid.Parse(p.PresenterID); err != nil {
		return fmt.Errorf("%w: bad presenter id", ErrIncompletePayload)
	}
	if p.CohortCode == "" {
		return fmt.Errorf("%w: missing cohort", ErrIncompletePayload)
	}
	if p.IssuedAt <= 0 {
		return fmt.Errorf("%w: missing issued-at", ErrIncompletePayload)
	}
	if len(p.Nonce) != nonceBytes*2 {
		return fmt.Errorf("%w: bad nonce", ErrIncompletePayload)
	}
	if _, err := hex.DecodeString(p.Nonce); err != nil {
		return fmt.Errorf("%w: bad nonce", ErrIncompletePayload)
	}
	return nil
}
