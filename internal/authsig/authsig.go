// Package authsig binds physical items to their digital records: signed QR
// payloads for serial numbers, and per-unit authenticity codes.
package authsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// PayloadPrefix tags the QR wire format. The trailing digit is the format
// version; bump it if the payload structure ever changes.
const PayloadPrefix = "SGT1"

var (
	ErrBadPrefix         = errors.New("qr payload: unknown prefix")
	ErrMalformedPayload  = errors.New("qr payload: malformed")
	ErrSignatureMismatch = errors.New("qr payload: signature mismatch")
)

// Signer derives all digests from one pre-shared secret, taken from
// configuration at startup. No rotation: rotating the secret invalidates
// every code already printed on physical items.
type Signer struct {
	secret []byte
}

func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// SignSerial produces the scannable payload "SGT1:<serial>:<hex digest>".
func (s *Signer) SignSerial(serial string) string {
	return PayloadPrefix + ":" + serial + ":" + s.digest(serial)
}

// VerifySerial checks a scanned payload and returns the embedded serial.
// Each failure class has its own error so callers can report a reason.
func (s *Signer) VerifySerial(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		if parts[0] != "" && parts[0] != PayloadPrefix {
			return "", ErrBadPrefix
		}
		return "", ErrMalformedPayload
	}
	if parts[0] != PayloadPrefix {
		return "", ErrBadPrefix
	}
	serial, sig := parts[1], parts[2]
	if serial == "" || sig == "" {
		return "", ErrMalformedPayload
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(s.digest(serial))) != 1 {
		return "", ErrSignatureMismatch
	}
	return serial, nil
}

// AuthCode is the one-way digest stored on a unit at production time,
// binding its serial to the producer. Matching a buyer-supplied code against
// the stored one implies authenticity, not proof of possession.
func (s *Signer) AuthCode(serial, producerID string) string {
	return s.digest(serial + "|" + producerID)
}

// VerifyAuthCode compares a claimed code against the stored one in constant
// time.
func (s *Signer) VerifyAuthCode(claimed, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(claimed), []byte(stored)) == 1
}

func (s *Signer) digest(msg string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
