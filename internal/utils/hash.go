package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// CredentialFingerprint identifies a provider credential without storing it.
// Surrounding whitespace is ignored so a pasted key with a newline still
// matches its earlier deposit.
func CredentialFingerprint(provider, credential string) string {
	return HashString(strings.ToLower(provider) + ":" + strings.TrimSpace(credential))
}
