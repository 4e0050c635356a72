package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifySignature reports whether signature is the HMAC-SHA256 of body under
// secret. Gitea sends plain lowercase hex in X-Gitea-Signature; a
// "sha256=" prefix is tolerated for proxies that rewrite it GitHub-style.
//
// The comparison is constant time. A missing, non-hex or wrong-length
// signature is simply invalid; callers cannot tell which check failed.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	actualMAC, err := parseSignature(strings.TrimSpace(signature))
	if err != nil || len(actualMAC) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expectedMAC, actualMAC) == 1
}

// parseSignature decodes "<hex>" or "sha256=<hex>".
func parseSignature(signature string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
}

// Sign returns the hex HMAC-SHA256 of body, the value Gitea puts in
// X-Gitea-Signature.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
