package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// recvWindow is the request validity window in milliseconds.
const recvWindow = "5000"

// sign computes the Bybit V5 request signature: a hex-encoded HMAC-SHA256
// over timestamp + apiKey + recvWindow + payload, where payload is the JSON
// body for POST requests or the raw query string for GET requests.
func sign(secret, timestamp, apiKey, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}
