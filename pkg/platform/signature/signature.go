// Package signature verifies HMAC-SHA256 signed webhook deliveries.
//
// Header format: X-Signature: sha256=<hex>. When X-Signature-Timestamp is
// present (unix seconds) the MAC covers "<timestamp>.<body>" and the
// timestamp must lie within the configured skew; otherwise the MAC covers
// the raw body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"

	schemePrefix = "sha256="
)

var (
	ErrMissingSignature   = errors.New("signature header missing")
	ErrMalformedSignature = errors.New("signature header malformed")
	ErrMismatch           = errors.New("signature mismatch")
	ErrTimestampSkew      = errors.New("signature timestamp outside allowed skew")
	ErrNoSecret           = errors.New("webhook secret not configured")
)

type Verifier struct {
	secret  []byte
	maxSkew time.Duration
}

// NewVerifier returns a verifier. maxSkew <= 0 disables the timestamp window
// but a present timestamp is still bound into the MAC.
func NewVerifier(secret []byte, maxSkew time.Duration) *Verifier {
	return &Verifier{secret: secret, maxSkew: maxSkew}
}

// Verify checks header against body. timestamp may be empty.
func (v *Verifier) Verify(body []byte, header, timestamp string, now time.Time) error {
	if len(v.secret) == 0 {
		return ErrNoSecret
	}
	if header == "" {
		return ErrMissingSignature
	}
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(header), schemePrefix)
	if !ok {
		return ErrMalformedSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil || len(got) != sha256.Size {
		return ErrMalformedSignature
	}

	if timestamp != "" {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrMalformedSignature
		}
		if v.maxSkew > 0 {
			skew := now.Sub(time.Unix(ts, 0))
			if skew < 0 {
				skew = -skew
			}
			if skew > v.maxSkew {
				return ErrTimestampSkew
			}
		}
	}

	if !hmac.Equal(got, v.mac(body, timestamp)) {
		return ErrMismatch
	}
	return nil
}

// Sign produces the X-Signature header value for body.
func (v *Verifier) Sign(body []byte, timestamp string) string {
	return schemePrefix + hex.EncodeToString(v.mac(body, timestamp))
}

func (v *Verifier) mac(body []byte, timestamp string) []byte {
	m := hmac.New(sha256.New, v.secret)
	if timestamp != "" {
		m.Write([]byte(timestamp))
		m.Write([]byte("."))
	}
	m.Write(body)
	return m.Sum(nil)
}
