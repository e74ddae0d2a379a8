package httpgw

import (
	"github.com/alexedwards/argon2id"
)

// Identity is the caller resolved from a static API key.
type Identity struct {
	UserID string
	Roles  []string
}

// APIKeyCredential is one configured key: an argon2id hash in PHC format
// plus the identity it authenticates as.
type APIKeyCredential struct {
	KeyHash string
	UserID  string
	Roles   []string
}

// APIKeyAuthenticator validates raw API keys against the configured
// argon2id hashes. Key sets are small (config-defined service callers), so
// validation iterates and verifies each candidate.
type APIKeyAuthenticator struct {
	credentials []APIKeyCredential
}

// NewAPIKeyAuthenticator creates an authenticator over the configured
// credentials. Returns nil when no keys are configured so callers can skip
// the API key resolution path entirely.
func NewAPIKeyAuthenticator(credentials []APIKeyCredential) *APIKeyAuthenticator {
	if len(credentials) == 0 {
		return nil
	}
	return &APIKeyAuthenticator{credentials: credentials}
}

// Authenticate verifies a raw key and returns the matching identity.
func (a *APIKeyAuthenticator) Authenticate(rawKey string) (Identity, bool) {
	for _, cred := range a.credentials {
		match, err := argon2id.ComparePasswordAndHash(rawKey, cred.KeyHash)
		if err != nil || !match {
			continue
		}
		return Identity{UserID: cred.UserID, Roles: cred.Roles}, true
	}
	return Identity{}, false
}

// HashKey produces an argon2id PHC hash for a new API key, used by the
// hash-key command.
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, &argon2id.Params{
		Memory:      47 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
}
