// Package signature is the HMAC-SHA256 primitive shared by QR payload
// signing, outbound webhook signing and the inbound request middleware.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 digest of payload under secret.
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the digest of payload under secret. The
// comparison is constant-time.
func Verify(payload, secret, sig string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
