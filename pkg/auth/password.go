package auth

import (
	"errors"
	"fmt"

	argon2 "github.com/andskur/argon2-hashing"
)

// ErrWrongPassword indicates the supplied password does not match the hash
var ErrWrongPassword = errors.New("wrong password")

// PasswordPolicy validates and hashes user passwords with argon2id
type PasswordPolicy struct {
	minLength int
}

// NewPasswordPolicy creates a password policy with a minimum length
func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength <= 0 {
		minLength = 8
	}
	return &PasswordPolicy{minLength: minLength}
}

// Validate checks a candidate password against the policy
func (p *PasswordPolicy) Validate(password string) error {
	if len(password) < p.minLength {
		return fmt.Errorf("password must be at least %d characters", p.minLength)
	}
	return nil
}

// Hash derives an argon2 hash from a password, validating it first
func (p *PasswordPolicy) Hash(password string) ([]byte, error) {
	if err := p.Validate(password); err != nil {
		return nil, err
	}
	hash, err := argon2.GenerateFromPassword([]byte(password), argon2.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// Compare checks a password against a stored hash. Returns
// ErrWrongPassword on mismatch.
func (p *PasswordPolicy) Compare(hash []byte, password string) error {
	err := argon2.CompareHashAndPassword(hash, []byte(password))
	if err != nil {
		if errors.Is(err, argon2.ErrMismatchedHashAndPassword) {
			return ErrWrongPassword
		}
		return fmt.Errorf("failed to compare password: %w", err)
	}
	return nil
}
