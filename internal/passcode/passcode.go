// Package passcode gates bundles behind a salted-hash shared secret with
// attempt counting and timed lockout.
//
// The functions here mutate the record they are given and hold no locks;
// callers serialize access per record.
package passcode

import (
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"vanish.share/internal/crypto"
	"vanish.share/internal/models"
)

const (
	MaxAttempts     = 5
	LockoutDuration = 15 * time.Minute
	MinLength       = 4
	MaxLength       = 64
)

// ErrLength is returned for passcodes outside [MinLength, MaxLength] runes.
var ErrLength = errors.New("passcode length out of range")

type Outcome int

const (
	Allowed Outcome = iota
	Denied
	LockedOut
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case LockedOut:
		return "locked_out"
	}
	return "unknown"
}

// Result is the answer to one submitted attempt. RemainingTries is set for
// Denied, RemainingSeconds for LockedOut.
type Result struct {
	Outcome          Outcome
	RemainingTries   int
	RemainingSeconds int
}

// ValidLength reports whether plaintext is an acceptable passcode.
func ValidLength(plaintext string) bool {
	n := utf8.RuneCountInString(plaintext)
	return n >= MinLength && n <= MaxLength
}

// Set stores a fresh salt and the salted hash of plaintext on the record.
// The plaintext itself is not retained.
func Set(b *models.Bundle, plaintext string) error {
	if !ValidLength(plaintext) {
		return ErrLength
	}
	b.Salt = crypto.NewSalt()
	b.PasswordHash = crypto.HashPasscode(b.Salt, plaintext)
	b.PasswordAttempts = 0
	b.LockoutUntil = nil
	return nil
}

// Verify checks one attempt against the record at now.
func Verify(b *models.Bundle, plaintext string, now time.Time) Result {
	if b.LockoutUntil != nil && now.Before(*b.LockoutUntil) {
		return lockedOut(*b.LockoutUntil, now)
	}

	if crypto.EqualHash(b.PasswordHash, crypto.HashPasscode(b.Salt, plaintext)) {
		b.PasswordAttempts = 0
		b.LockoutUntil = nil
		return Result{Outcome: Allowed}
	}

	// An elapsed lockout starts a fresh round of attempts.
	if b.LockoutUntil != nil {
		b.LockoutUntil = nil
		b.PasswordAttempts = 0
	}

	b.PasswordAttempts++
	if b.PasswordAttempts >= MaxAttempts {
		until := now.Add(LockoutDuration)
		b.LockoutUntil = &until
		return lockedOut(until, now)
	}
	return Result{Outcome: Denied, RemainingTries: MaxAttempts - b.PasswordAttempts}
}

func lockedOut(until, now time.Time) Result {
	secs := int(math.Ceil(until.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return Result{Outcome: LockedOut, RemainingSeconds: secs}
}
