package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignatureHeader is the header carrying the delivery signature.
const SignatureHeader = "Stripe-Signature"

// Sign computes the v1 signature: lowercase hex HMAC-SHA256 of
// "<timestamp>.<payload>" under the endpoint's shared secret.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue renders "t=<timestamp>,v1=<signature>".
func SignatureHeaderValue(timestamp int64, signature string) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
