package service

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// HashOperatorToken hashes cleartext with argon2id for storage as
// runtime.operator_token_hash, the way a deployment's bootstrap step
// generates it once and pastes the hash into its config file.
func HashOperatorToken(cleartext string) (string, error) {
	hash, err := argon2id.CreateHash(cleartext, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("service: hashing operator token: %w", err)
	}
	return hash, nil
}

// VerifyOperatorToken reports whether cleartext matches hash. Used to gate
// starting a session when the runtime config carries an
// operator_token_hash: an empty hash means no token is required.
func VerifyOperatorToken(cleartext, hash string) (bool, error) {
	if hash == "" {
		return true, nil
	}
	match, err := argon2id.ComparePasswordAndHash(cleartext, hash)
	if err != nil {
		return false, fmt.Errorf("service: verifying operator token: %w", err)
	}
	return match, nil
}
