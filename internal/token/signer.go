package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sign serializes the payload canonically and pairs it with its
// HMAC-SHA256 signature.
func Sign(p Payload, secret []byte) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{Payload: raw, Sig: computeMAC(raw, secret)}, nil
}

// Verify decodes a wire string and runs the full check sequence:
// decode, signature (constant-time), structure, freshness. It never consults
// session or ledger state; that is layered on top by the redemption pipeline.
func Verify(wire string, secret []byte, now time.Time, maxAge time.Duration) (*Payload, error) {
	env, err := Decode(wire)
	if err != nil {
		return nil, err
	}

	want, err := hex.DecodeString(env.Sig)
	if err != nil {
		return nil, ErrTampered
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(env.Payload)
	if !hmac.Equal(mac.Sum(nil), want) {
		return nil, ErrTampered
	}

	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompletePayload, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	age := now.Unix() - p.IssuedAt
	if age < 0 {
		return nil, ErrFutureTimestamp
	}
	if age > int64(maxAge/time.Second) {
		return nil, ErrExpired
	}
	return &p, nil
}

func computeMAC(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Service mints and verifies passes under a single process-wide secret,
// injected at startup and immutable thereafter.
type Service struct {
	secret []byte
	maxAge time.Duration
}

// NewService creates a pass service. maxAgeSeconds is the freshness window.
func NewService(secret string, maxAgeSeconds int) *Service {
	return &Service{secret: []byte(secret), maxAge: time.Duration(maxAgeSeconds) * time.Second}
}

// MaxAge returns the freshness window.
func (s *Service) MaxAge() time.Duration { return s.maxAge }

// Mint builds, signs and encodes a fresh pass for an active session.
func (s *Service) Mint(sessionID, presenterID uuid.UUID, cohortCode string, now time.Time) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	p := Payload{
		Version:     FormatVersion,
		SessionID:   sessionID.String(),
		PresenterID: presenterID.String(),
		CohortCode:  cohortCode,
		IssuedAt:    now.Unix(),
		Nonce:       nonce,
	}
	env, err := Sign(p, s.secret)
	if err != nil {
		return "", err
	}
	return Encode(env)
}

// Verify checks a scanned wire string against the service secret and window.
func (s *Service) Verify(wire string, now time.Time) (*Payload, error) {
	return Verify(wire, s.secret, now, s.maxAge)
}
