package deploy

import (
	"crypto/subtle"
	"strings"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
)

// KeyChecker validates the caller's API key before any remote work.
type KeyChecker struct {
	// Require rejects requests without a key.
	Require bool
	// Keys, when non-empty, is the set of accepted keys.
	Keys []string
}

// Check returns AuthenticationFailed when key is not acceptable. A key that
// was supplied but is blank is always rejected.
func (k KeyChecker) Check(key string, supplied bool) error {
	trimmed := strings.TrimSpace(key)
	if supplied && trimmed == "" {
		return deployerr.New(deployerr.AuthenticationFailed, "API key validation failed: API key is required")
	}
	if trimmed == "" {
		if k.Require {
			return deployerr.New(deployerr.AuthenticationFailed, "API key validation failed: API key is required")
		}
		return nil
	}
	if len(k.Keys) == 0 {
		return nil
	}
	for _, allowed := range k.Keys {
		if subtle.ConstantTimeCompare([]byte(trimmed), []byte(allowed)) == 1 {
			return nil
		}
	}
	return deployerr.New(deployerr.AuthenticationFailed, "API key validation failed: unknown API key")
}
