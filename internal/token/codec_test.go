package token

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{
		Payload: json.RawMessage(`{"v":1,"sid":"abc","iat":42}`),
		Sig:     "deadbeef",
	}
	wire, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Payload, env.Payload) {
		t.Fatalf("payload mismatch: got %s want %s", got.Payload, env.Payload)
	}
	if got.Sig != env.Sig {
		t.Fatalf("sig mismatch: got %s want %s", got.Sig, env.Sig)
	}
}

func TestDecodeMalformed(t *testing.T) {
	deflate := func(b []byte) string {
		var buf bytes.Buffer
		w, _ := flate.NewWriter(&buf, flate.BestCompression)
		w.Write(b)
		w.Close()
		return base64.RawURLEncoding.EncodeToString(buf.Bytes())
	}

	cases := []struct {
		name string
		wire string
	}{
		{"empty", ""},
		{"not base64", "!!not-base64!!"},
		{"base64 but not deflate", base64.RawURLEncoding.EncodeToString([]byte("plain text, no compression"))},
		{"deflate but not json", deflate([]byte("still not an envelope"))},
		{"json but not an envelope", deflate([]byte(`[1,2,3]`))},
		{"envelope missing signature", deflate([]byte(`{"p":{"v":1}}`))},
		{"envelope missing payload", deflate([]byte(`{"s":"deadbeef"}`))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.wire); !errors.Is(err, ErrMalformedEncoding) {
				t.Fatalf("want ErrMalformedEncoding, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsOversizedEnvelope(t *testing.T) {
	big := bytes.Repeat([]byte("a"), maxEnvelopeBytes*2)
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestCompression)
	w.Write(big)
	w.Close()
	wire := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	if _, err := Decode(wire); !errors.Is(err, ErrMalformedEncoding) {
		t.Fatalf("want ErrMalformedEncoding, got %v", err)
	}
}
