package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// fingerprintHeaders are hashed, in this order, into the browser fingerprint.
var fingerprintHeaders = []string{"User-Agent", "Accept-Language", "Accept-Encoding"}

// Fingerprint derives a stable identifier for the requesting browser from
// its headers: the first 16 hex chars of a SHA-256 over the header values.
// Missing headers count as empty strings.
func Fingerprint(r *http.Request) string {
	values := make([]string, len(fingerprintHeaders))
	for i, h := range fingerprintHeaders {
		values[i] = r.Header.Get(h)
	}
	sum := sha256.Sum256([]byte(strings.Join(values, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}
