package token

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// maxEnvelopeBytes bounds the decompressed envelope size; anything larger is
// not a protocol pass.
const maxEnvelopeBytes = 4096

// Envelope pairs the serialized payload with its signature. The wire form is
// the JSON envelope, DEFLATE-compressed and base64url-encoded, which is the
// exact string rendered into the QR symbol.
type Envelope struct {
	Payload json.RawMessage `json:"p"`
	Sig     string          `json:"s"`
}

// Encode compresses and text-encodes an envelope into its wire string.
func Encode(env Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("flate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Any failure at text-decoding, decompression or
// structural parsing yields ErrMalformedEncoding; no partial envelope is
// ever returned.
func Decode(wire string) (Envelope, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(wire)
	if err != nil {
		return Envelope{}, ErrMalformedEncoding
	}
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	raw, err := io.ReadAll(io.LimitReader(r, maxEnvelopeBytes+1))
	if err != nil {
		return Envelope{}, ErrMalformedEncoding
	}
	if len(raw) > maxEnvelopeBytes {
		return Envelope{}, ErrMalformedEncoding
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ErrMalformedEncoding
	}
	if len(env.Payload) == 0 || env.Sig == "" {
		return Envelope{}, ErrMalformedEncoding
	}
	return env, nil
}
