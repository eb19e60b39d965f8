package store

import (
	"context"
	"errors"
	"time"

	"vanish.share/internal/models"
	"vanish.share/internal/passcode"
)

var (
	ErrNotFound     = errors.New("link not found")
	ErrExpired      = errors.New("link has expired")
	ErrRevoked      = errors.New("link has been revoked")
	ErrForbidden    = errors.New("not allowed to modify this link")
	ErrInvalidInput = errors.New("invalid input")
	ErrTokenSpace   = errors.New("could not allocate a unique token")
	ErrNotEmpty     = errors.New("restore requires an empty registry")
)

// Grace windows before the collector forgets a dead record.
const (
	ExpiredGrace = 7 * 24 * time.Hour
	RevokedGrace = 30 * 24 * time.Hour
)

// IssueParams describes a bundle being committed. An empty Passcode means
// the link is not gated.
type IssueParams struct {
	Batches     []models.Batch
	LinkExpiry  *time.Time
	DeleteAfter models.Lifetime
	Owner       models.PrincipalID
	Passcode    string
}

// Document is a point-in-time copy of everything the registry persists.
type Document struct {
	Version    int                  `json:"version"`
	SavedAt    time.Time            `json:"saved_at"`
	Bundles    []models.Bundle      `json:"bundles"`
	Principals []models.PrincipalID `json:"principals"`
}

// DocumentVersion is the current snapshot layout.
const DocumentVersion = 1

type Registry interface {
	Issue(ctx context.Context, params IssueParams) (string, error)
	Resolve(ctx context.Context, token string) (models.BundleView, error)
	Authenticate(ctx context.Context, token, plaintext string) (passcode.Result, error)
	RecordAccess(ctx context.Context, token string) error
	Revoke(ctx context.Context, token string, requester models.PrincipalID, isAdmin bool) error
	ListFor(ctx context.Context, principal models.PrincipalID, isAdmin bool) []models.BundleView
	Sweep(now time.Time) int

	AddPrincipal(id models.PrincipalID) bool
	Principals() []models.PrincipalID

	Snapshot() Document
	Restore(doc Document) error
	Version() uint64
}
