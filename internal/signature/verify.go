// Package signature authenticates webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Prefix precedes the hex digest in the X-Hub-Signature-256 header.
const Prefix = "sha256="

// HeaderLength is the length of a well-formed signature header value.
const HeaderLength = len(Prefix) + sha256.Size*2

var (
	ErrMissing   = errors.New("missing webhook signature")
	ErrMalformed = errors.New("malformed webhook signature")
	ErrMismatch  = errors.New("webhook signature mismatch")
)

// MismatchError carries both signatures for diagnostics. Never write it to a sink the
// sender can read.
type MismatchError struct {
	Got      string
	Expected string
}

func (e *MismatchError) Error() string {
	return "invalid signature"
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Proof is returned only by Verify. Holding one means the payload it carries was
// authenticated, and the payload is reachable only through it.
type Proof struct {
	body []byte
}

// Body returns the authenticated payload.
func (p Proof) Body() []byte { return p.body }

// Sign returns the header value for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the HMAC-SHA256 of body. The comparison takes the same
// time wherever the signatures differ.
func Verify(body []byte, secret, header string) (Proof, error) {
	if header == "" {
		return Proof{}, ErrMissing
	}
	if len(header) != HeaderLength {
		return Proof{}, fmt.Errorf("%w: expected %d characters, got %d", ErrMalformed, HeaderLength, len(header))
	}

	expected := Sign(body, secret)
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return Proof{}, &MismatchError{Got: header, Expected: expected}
	}
	return Proof{body: body}, nil
}
