package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// argon2idParams follows OWASP minimums: 46 MiB memory, 1 iteration,
// parallelism 1. Used to hash admin bootstrap secrets (e.g. a seeded
// initial admin password) before they ever touch disk — never the
// bearer tokens themselves, which are never stored, only their
// SHA-256 hash via HashToken for the revocation blacklist.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecret returns an Argon2id hash of secret in PHC format.
func HashSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2idParams)
}

// VerifySecret checks secret against a PHC-format Argon2id hash. It
// recovers from the underlying library's panics on malformed hashes
// (e.g. zero iterations) and turns them into an error instead.
func VerifySecret(secret, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(secret, hash)
}
