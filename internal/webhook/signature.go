package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var errSignatureMismatch = errors.New("webhook signature mismatch")

// verifySignature checks an HMAC-SHA256 signature of body keyed by secret.
//
// Verification is skipped (nil) when no secret is configured or the sender
// did not supply a signature header. Otherwise the signature must be the hex
// digest, optionally prefixed with "sha256=", and is compared in constant
// time.
func verifySignature(body []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return nil
	}

	actual, err := parseSignature(signature)
	if err != nil {
		return errSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), actual) {
		return errSignatureMismatch
	}
	return nil
}

// parseSignature decodes "sha256=<hex>" or plain "<hex>".
func parseSignature(signature string) ([]byte, error) {
	if len(signature) > len("sha256=") && strings.EqualFold(signature[:len("sha256=")], "sha256=") {
		signature = signature[len("sha256="):]
	}
	return hex.DecodeString(signature)
}
