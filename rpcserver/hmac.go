package rpcserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// HeaderCustodyHMAC carries the hex HMAC-SHA256 of the
// request body, keyed with the secret shared by both services.
const HeaderCustodyHMAC = "X-Custody-HMAC"

// HMACAuthMiddleware rejects requests whose body is not
// authenticated with hmacKey. An empty key disables the check.
func HMACAuthMiddleware(hmacKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hmacKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			receivedHMAC := r.Header.Get(HeaderCustodyHMAC)
			if receivedHMAC == "" {
				log.Debugf("Request to %s rejected: missing HMAC header", r.URL.Path)
				RespondWithError(w, NewUnauthorizedError("missing HMAC authentication header"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
			if err != nil {
				RespondWithError(w, NewErrorWithMsg(http.StatusBadRequest, BadRequest, "cannot read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !ValidateHMAC(hmacKey, body, receivedHMAC) {
				log.Debugf("Request to %s rejected: invalid HMAC", r.URL.Path)
				RespondWithError(w, NewUnauthorizedError("invalid HMAC authentication"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GenerateHMAC returns the hex HMAC-SHA256 of body, or an
// empty string when no key is configured.
func GenerateHMAC(hmacKey string, body []byte) string {
	if hmacKey == "" {
		return ""
	}

	h := hmac.New(sha256.New, []byte(hmacKey))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateHMAC checks receivedHMAC against body in constant time.
func ValidateHMAC(hmacKey string, body []byte, receivedHMAC string) bool {
	if hmacKey == "" {
		return true
	}

	expected := GenerateHMAC(hmacKey, body)
	return hmac.Equal([]byte(expected), []byte(receivedHMAC))
}
