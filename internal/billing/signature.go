package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the provider's hex HMAC of the raw request body.
const SignatureHeader = "X-Signature"

// Verify reports whether header is the hex HMAC-SHA256 of rawBody under
// secret. It never panics and returns false for an empty secret, a missing
// header, malformed hex or a digest of the wrong length.
func Verify(rawBody []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	got, err := hex.DecodeString(header)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the header value the provider would send for rawBody.
func Sign(rawBody []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
