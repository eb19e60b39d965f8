package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"vanish.share/internal/crypto"
	"vanish.share/internal/models"
	"vanish.share/internal/passcode"
)

// Compile-time interface check
var _ Registry = (*MemoryStore)(nil)

const maxTokenAttempts = 8

// MemoryStore is the authoritative in-memory registry. A single mutex
// serializes every mutation so counters never lose updates.
type MemoryStore struct {
	mu      sync.Mutex
	bundles map[string]*models.Bundle
	order   []string

	principals     map[models.PrincipalID]struct{}
	principalOrder []models.PrincipalID

	version  uint64
	clock    clockwork.Clock
	newToken func() string
}

type Option func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(c clockwork.Clock) Option {
	return func(s *MemoryStore) { s.clock = c }
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(fn func() string) Option {
	return func(s *MemoryStore) { s.newToken = fn }
}

// WithTokenBytes sets the random byte count behind each token.
func WithTokenBytes(n int) Option {
	return func(s *MemoryStore) {
		s.newToken = func() string { return crypto.GenerateToken(n) }
	}
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		bundles:    make(map[string]*models.Bundle),
		principals: make(map[models.PrincipalID]struct{}),
		clock:      clockwork.NewRealClock(),
		newToken:   func() string { return crypto.GenerateToken(crypto.DefaultTokenBytes) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Issue(ctx context.Context, params IssueParams) (string, error) {
	if err := validateBatches(params.Batches); err != nil {
		return "", err
	}

	record := &models.Bundle{
		Batches:     cloneBatches(params.Batches),
		LinkExpiry:  params.LinkExpiry,
		DeleteAfter: params.DeleteAfter,
		Owner:       params.Owner,
	}
	if params.Passcode != "" {
		if err := passcode.Set(record, params.Passcode); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.allocateToken()
	if err != nil {
		return "", err
	}
	record.Token = token
	record.CreatedAt = s.clock.Now()

	s.bundles[token] = record
	s.order = append(s.order, token)
	s.version++
	return token, nil
}

// Resolve reports the state of a link. The one side effect it has is
// memoizing revocation the first time it observes an elapsed expiry.
func (s *MemoryStore) Resolve(ctx context.Context, token string) (models.BundleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bundles[token]
	if !ok {
		return models.BundleView{}, ErrNotFound
	}

	now := s.clock.Now()
	if record.ExpiredAt(now) {
		if !record.Revoked {
			record.Revoked = true
			s.version++
		}
		return models.BundleView{}, ErrExpired
	}
	if record.Revoked {
		return models.BundleView{}, ErrRevoked
	}
	return record.View(now), nil
}

// Authenticate runs one passcode attempt against a live link. Links without
// a passcode always authenticate.
func (s *MemoryStore) Authenticate(ctx context.Context, token, plaintext string) (passcode.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bundles[token]
	if !ok {
		return passcode.Result{}, ErrNotFound
	}
	now := s.clock.Now()
	if record.ExpiredAt(now) {
		return passcode.Result{}, ErrExpired
	}
	if record.Revoked {
		return passcode.Result{}, ErrRevoked
	}
	if !record.Gated() {
		return passcode.Result{Outcome: passcode.Allowed}, nil
	}

	res := passcode.Verify(record, plaintext, now)
	s.version++
	return res, nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bundles[token]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	record.HitCount++
	record.LastAccess = &now
	s.version++
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, token string, requester models.PrincipalID, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bundles[token]
	if !ok {
		return ErrNotFound
	}
	if !isAdmin && record.Owner != requester {
		return ErrForbidden
	}
	if !record.Revoked {
		record.Revoked = true
		s.version++
	}
	return nil
}

// ListFor returns records in insertion order. Admins see every record,
// grouped by owner in order of each owner's first link; everyone else sees
// only their own.
func (s *MemoryStore) ListFor(ctx context.Context, principal models.PrincipalID, isAdmin bool) []models.BundleView {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !isAdmin {
		var out []models.BundleView
		for _, token := range s.order {
			if record := s.bundles[token]; record.Owner == principal {
				out = append(out, record.View(now))
			}
		}
		return out
	}

	var owners []models.PrincipalID
	groups := make(map[models.PrincipalID][]models.BundleView)
	for _, token := range s.order {
		record := s.bundles[token]
		if _, seen := groups[record.Owner]; !seen {
			owners = append(owners, record.Owner)
		}
		groups[record.Owner] = append(groups[record.Owner], record.View(now))
	}
	out := make([]models.BundleView, 0, len(s.order))
	for _, owner := range owners {
		out = append(out, groups[owner]...)
	}
	return out
}

// Sweep permanently removes records past their grace window and returns
// how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, token := range s.order {
		record := s.bundles[token]
		if reclaimable(record, now) {
			delete(s.bundles, token)
			removed++
			continue
		}
		kept = append(kept, token)
	}
	s.order = kept
	if removed > 0 {
		s.version++
	}
	return removed
}

func reclaimable(record *models.Bundle, now time.Time) bool {
	if record.LinkExpiry != nil && now.After(record.LinkExpiry.Add(ExpiredGrace)) {
		return true
	}
	return record.Revoked && now.After(record.CreatedAt.Add(RevokedGrace))
}

// AddPrincipal records a principal and reports whether it was new.
func (s *MemoryStore) AddPrincipal(id models.PrincipalID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[id]; ok {
		return false
	}
	s.principals[id] = struct{}{}
	s.principalOrder = append(s.principalOrder, id)
	s.version++
	return true
}

func (s *MemoryStore) Principals() []models.PrincipalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PrincipalID(nil), s.principalOrder...)
}

// Snapshot copies the registry under the lock so concurrent writers never
// tear the document.
func (s *MemoryStore) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{
		Version:    DocumentVersion,
		SavedAt:    s.clock.Now(),
		Bundles:    make([]models.Bundle, 0, len(s.order)),
		Principals: append([]models.PrincipalID{}, s.principalOrder...),
	}
	for _, token := range s.order {
		doc.Bundles = append(doc.Bundles, s.bundles[token].Clone())
	}
	return doc
}

// Restore loads a document into an empty registry.
func (s *MemoryStore) Restore(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.bundles) > 0 || len(s.principals) > 0 {
		return ErrNotEmpty
	}

	bundles := make(map[string]*models.Bundle, len(doc.Bundles))
	order := make([]string, 0, len(doc.Bundles))
	for i := range doc.Bundles {
		record := doc.Bundles[i].Clone()
		if record.Token == "" {
			return fmt.Errorf("%w: bundle %d has no token", ErrInvalidInput, i)
		}
		if _, dup := bundles[record.Token]; dup {
			return fmt.Errorf("%w: duplicate token %q", ErrInvalidInput, record.Token)
		}
		bundles[record.Token] = &record
		order = append(order, record.Token)
	}

	s.bundles = bundles
	s.order = order
	for _, id := range doc.Principals {
		if _, ok := s.principals[id]; ok {
			continue
		}
		s.principals[id] = struct{}{}
		s.principalOrder = append(s.principalOrder, id)
	}
	return nil
}

// Version changes whenever persisted state changes.
func (s *MemoryStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bundles)
}

func (s *MemoryStore) allocateToken() (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token := s.newToken()
		if _, taken := s.bundles[token]; !taken && token != "" {
			return token, nil
		}
	}
	return "", ErrTokenSpace
}

func validateBatches(batches []models.Batch) error {
	if len(batches) == 0 {
		return fmt.Errorf("%w: bundle has no media", ErrInvalidInput)
	}
	for i, batch := range batches {
		if len(batch) == 0 || len(batch) > models.MaxBatchSize {
			return fmt.Errorf("%w: batch %d has %d items", ErrInvalidInput, i, len(batch))
		}
		for _, item := range batch {
			if !item.Kind.Valid() || item.Ref == "" {
				return fmt.Errorf("%w: malformed media item in batch %d", ErrInvalidInput, i)
			}
		}
	}
	return nil
}

func cloneBatches(batches []models.Batch) []models.Batch {
	out := make([]models.Batch, len(batches))
	for i, batch := range batches {
		out[i] = append(models.Batch(nil), batch...)
	}
	return out
}

// IsInvalidInput reports whether err belongs to the invalid input class.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
