package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is where a hospital would send the payload signature.
const SignatureHeader = "X-Hospital-Signature"

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of payload
// under secret. An empty secret disables verification.
func VerifySignature(payload []byte, secret, signature string) bool {
	if secret == "" {
		return true
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}
