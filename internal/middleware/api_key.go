// Package middleware provides the HTTP middleware shared by tenantdesk
// handlers: bearer-token principal resolution with bcrypt-hashed API keys,
// per-IP throttling of failed tokens, and request-scoped logging.
package middleware

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

// HashAPIKey returns a salted bcrypt hash for an API key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key secret against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
}

// SplitAPIKeyToken splits a "keyID.secret" token. ok is false when either
// part is empty.
func SplitAPIKeyToken(token string) (keyID, secret string, ok bool) {
	keyID, secret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}
