package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// SignWebhookPayload computes the signature an inbound webhook must carry:
// base64 of the HMAC-SHA256 over the raw request body.
func SignWebhookPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a webhook signature in constant time. The
// raw body must be signed before any parsing touches it.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	expected := SignWebhookPayload(payload, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}
