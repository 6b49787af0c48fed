// Package signer implements the platform request signature:
// HMAC-SHA256(secret, timestamp || method || path || body), no separators,
// rendered as hex or base64 depending on the deployment.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	HeaderPlatformToken = "X-Platform-Token"
	HeaderTimestamp     = "X-Timestamp"
	HeaderNonce         = "X-Nonce"
	HeaderSignature     = "X-Signature"
)

const DefaultSkew = 300 * time.Second

type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

var (
	ErrUnknownEncoding    = errors.New("unknown signature encoding")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrStaleTimestamp     = errors.New("timestamp outside allowed skew")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrBadSignature       = errors.New("signature mismatch")
	ErrEmptySecret        = errors.New("empty secret")
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingHex, EncodingBase64:
		return Encoding(s), nil
	case "":
		return EncodingHex, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

func mac(secret, timestamp, method, path string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the encoded signature for a request. path is the request URI
// as sent on the wire, including the raw query.
func Sign(secret, timestamp, method, path string, body []byte, enc Encoding) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	sum := mac(secret, timestamp, method, path, body)
	switch enc {
	case EncodingHex:
		return hex.EncodeToString(sum), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(sum), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
}

// Timestamp formats t the way X-Timestamp expects it.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

type Verifier struct {
	enc  Encoding
	skew time.Duration
	now  func() time.Time
}

func NewVerifier(enc Encoding, skew time.Duration) (*Verifier, error) {
	if enc != EncodingHex && enc != EncodingBase64 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Verifier{enc: enc, skew: skew, now: time.Now}, nil
}

// WithClock replaces the wall clock, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func (v *Verifier) Encoding() Encoding { return v.enc }

func (v *Verifier) Skew() time.Duration { return v.skew }

// CheckTimestamp parses a unix-seconds timestamp and rejects it when it is
// further than the allowed skew from now, in either direction.
func (v *Verifier) CheckTimestamp(ts string) (time.Time, error) {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, ErrMalformedTimestamp
	}
	t := time.Unix(secs, 0)
	// compare against bounds; Sub saturates for timestamps centuries away
	now := v.now()
	if t.Before(now.Add(-v.skew)) || t.After(now.Add(v.skew)) {
		return t, ErrStaleTimestamp
	}
	return t, nil
}

func (v *Verifier) decode(sig string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if v.enc == EncodingBase64 {
		raw, err = base64.StdEncoding.DecodeString(sig)
	} else {
		raw, err = hex.DecodeString(sig)
	}
	if err != nil || len(raw) != sha256.Size {
		return nil, ErrMalformedSignature
	}
	return raw, nil
}

// Verify checks freshness and then the signature in constant time.
func (v *Verifier) Verify(secret, timestamp, method, path string, body []byte, signature string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	if _, err := v.CheckTimestamp(timestamp); err != nil {
		return err
	}
	got, err := v.decode(signature)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, mac(secret, timestamp, method, path, body)) {
		return ErrBadSignature
	}
	return nil
}
