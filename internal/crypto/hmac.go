package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on every authenticated ledger gateway request.
const (
	HeaderClientID  = "X-Vault-Client"
	HeaderNetwork   = "X-Vault-Network"
	HeaderTimestamp = "X-Vault-Timestamp"
	HeaderSignature = "X-Vault-Signature"
)

// HMACAuth holds the credentials for HMAC-authenticated gateway requests.
type HMACAuth struct {
	ClientID string
	Secret   string
	Network  string
}

// Headers returns the authentication headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)

	headers := map[string]string{
		HeaderClientID:  h.ClientID,
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}
	if h.Network != "" {
		headers[HeaderNetwork] = h.Network
	}
	return headers
}

// Verify reports whether sig is the valid signature for the given request
// parts. It is used by gateway fakes in tests.
func (h *HMACAuth) Verify(ts, method, path, body, sig string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{client=%s, secret=%s}", h.ClientID, redact(h.Secret))
}
