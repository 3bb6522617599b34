package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/hookbridge/hookbridge/internal/models"
)

// Sign computes the HMAC signature header value for the exact payload bytes
// that will be sent. The result is "<algorithm>=<hex digest>", e.g.
// "sha256=ab12...". Callers must serialize the payload before signing.
func Sign(secret string, payload []byte, algorithm models.HMACAlgorithm) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("hmac secret is empty")
	}

	var newHash func() hash.Hash
	switch algorithm {
	case models.HMACSHA256, "":
		algorithm = models.HMACSHA256
		newHash = sha256.New
	case models.HMACSHA512:
		newHash = sha512.New
	default:
		return "", fmt.Errorf("unsupported hmac algorithm %q", algorithm)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return string(algorithm) + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a received signature against the payload in
// constant time. Used by the verification endpoint and by tests.
func VerifySignature(secret string, payload []byte, algorithm models.HMACAlgorithm, signature string) bool {
	expected, err := Sign(secret, payload, algorithm)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
