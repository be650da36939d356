package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// sign computes the Bitget V2 request signature: a base64-encoded
// HMAC-SHA256 over timestamp + method + requestPath(+query) + body.
func sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
