package token

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testSecret = []byte("unit-test-secret")

func testPayload(issuedAt int64) Payload {
	return Payload{
		Version:     FormatVersion,
		SessionID:   "5b7f5f7e-9a04-4ee1-8f42-6a3b1c2d3e4f",
		PresenterID: "0d1e2f30-4a5b-6c7d-8e9f-a0b1c2d3e4f5",
		CohortCode:  "CH401",
		IssuedAt:    issuedAt,
		Nonce:       "0123456789abcdef0123456789abcdef",
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	p := testPayload(1000)
	env, err := Sign(p, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Verify(wire, testSecret, time.Unix(1001, 0), 3*time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if *got != p {
		t.Fatalf("payload mismatch: got %+v want %+v", *got, p)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	env, err := Sign(testPayload(1000), testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, _ := Encode(env)
	if _, err := Verify(wire, []byte("other-secret"), time.Unix(1001, 0), 3*time.Second); !errors.Is(err, ErrTampered) {
		t.Fatalf("want ErrTampered, got %v", err)
	}
}

// Every single-bit flip in the signed payload region must fail verification.
// Flips that still form valid JSON must be caught by the MAC; flips that
// break the envelope structure may fail earlier, but none may pass.
func TestVerifyTamperedPayloadBitFlips(t *testing.T) {
	env, err := Sign(testPayload(1000), testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	now := time.Unix(1001, 0)
	tamperedSeen := 0
	for i := 0; i < len(env.Payload)*8; i++ {
		flipped := make([]byte, len(env.Payload))
		copy(flipped, env.Payload)
		flipped[i/8] ^= 1 << (i % 8)

		tampered := Envelope{Payload: flipped, Sig: env.Sig}
		if !json.Valid(flipped) {
			// The flip broke the payload's JSON structure; such an envelope
			// cannot even be re-encoded, so nothing reaches the verifier.
			continue
		}
		wire, err := Encode(tampered)
		if err != nil {
			t.Fatalf("encode flipped bit %d: %v", i, err)
		}
		got, err := Verify(wire, testSecret, now, 3*time.Second)
		if err == nil {
			t.Fatalf("bit flip %d passed verification: %+v", i, got)
		}
		if errors.Is(err, ErrTampered) {
			tamperedSeen++
		}
	}
	if tamperedSeen == 0 {
		t.Fatal("no flip reached the signature check")
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	env, err := Sign(testPayload(1000), testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig := []byte(env.Sig)
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}
	env.Sig = string(sig)
	wire, _ := Encode(env)
	if _, err := Verify(wire, testSecret, time.Unix(1001, 0), 3*time.Second); !errors.Is(err, ErrTampered) {
		t.Fatalf("want ErrTampered, got %v", err)
	}
	env.Sig = "zz-not-hex"
	wire, _ = Encode(env)
	if _, err := Verify(wire, testSecret, time.Unix(1001, 0), 3*time.Second); !errors.Is(err, ErrTampered) {
		t.Fatalf("want ErrTampered for non-hex sig, got %v", err)
	}
}

func TestVerifyFreshnessWindow(t *testing.T) {
	const issued = 1_700_000_000
	maxAge := 3 * time.Second
	env, err := Sign(testPayload(issued), testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, _ := Encode(env)

	cases := []struct {
		name    string
		now     int64
		wantErr error
	}{
		{"at issue", issued, nil},
		{"within window", issued + 2, nil},
		{"at window edge", issued + 3, nil},
		{"just past window", issued + 4, ErrExpired},
		{"long stale", issued + 600, ErrExpired},
		{"before issue", issued - 1, ErrFutureTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify(wire, testSecret, time.Unix(tc.now, 0), maxAge)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("want success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVerifyIncompletePayload(t *testing.T) {
	base := testPayload(1000)
	mutate := []struct {
		name string
		fn   func(p *Payload)
	}{
		{"wrong version", func(p *Payload) { p.Version = 9 }},
		{"bad session id", func(p *Payload) { p.SessionID = "not-a-uuid" }},
		{"missing session id", func(p *Payload) { p.SessionID = "" }},
		{"bad presenter id", func(p *Payload) { p.PresenterID = "xyz" }},
		{"missing cohort", func(p *Payload) { p.CohortCode = "" }},
		{"missing issued-at", func(p *Payload) { p.IssuedAt = 0 }},
		{"short nonce", func(p *Payload) { p.Nonce = "abcd" }},
		{"non-hex nonce", func(p *Payload) { p.Nonce = "zz23456789abcdef0123456789abcdef" }},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.fn(&p)
			env, err := Sign(p, testSecret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			wire, _ := Encode(env)
			if _, err := Verify(wire, testSecret, time.Unix(1001, 0), 3*time.Second); !errors.Is(err, ErrIncompletePayload) {
				t.Fatalf("want ErrIncompletePayload, got %v", err)
			}
		})
	}
}

func TestServiceMintVerify(t *testing.T) {
	svc := NewService("service-secret", 3)
	sessionID := uuid.New()
	presenterID := uuid.New()
	now := time.Unix(2000, 0)

	wire, err := svc.Mint(sessionID, presenterID, "CH401", now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p, err := svc.Verify(wire, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.SessionID != sessionID.String() || p.PresenterID != presenterID.String() {
		t.Fatalf("id mismatch: %+v", p)
	}
	if p.CohortCode != "CH401" || p.IssuedAt != now.Unix() {
		t.Fatalf("field mismatch: %+v", p)
	}
	if len(p.Nonce) != 32 {
		t.Fatalf("nonce width: %q", p.Nonce)
	}

	// Two mints never share a nonce.
	wire2, err := svc.Mint(sessionID, presenterID, "CH401", now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p2, err := svc.Verify(wire2, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p2.Nonce == p.Nonce {
		t.Fatal("minted nonces collide")
	}
}

func TestKind(t *testing.T) {
	if k := Kind(ErrExpired); k != "expired" {
		t.Fatalf("kind: %s", k)
	}
	if k := Kind(errors.New("other")); k != "" {
		t.Fatalf("kind for unknown error: %s", k)
	}
}
