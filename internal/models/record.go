package models

import "time"

// Status is the display state of a record at a given instant.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Bundle is the registry record behind a token.
type Bundle struct {
	Token       string      `json:"token"`
	Batches     []Batch     `json:"batches"`
	LinkExpiry  *time.Time  `json:"link_expiry,omitempty"`
	DeleteAfter Lifetime    `json:"delete_after"`
	CreatedAt   time.Time   `json:"created_at"`
	Owner       PrincipalID `json:"owner"`
	HitCount    int64       `json:"hit_count"`
	LastAccess  *time.Time  `json:"last_access,omitempty"`
	Revoked     bool        `json:"revoked"`

	PasswordHash     string     `json:"password_hash,omitempty"`
	Salt             string     `json:"salt,omitempty"`
	PasswordAttempts int        `json:"password_attempts,omitempty"`
	LockoutUntil     *time.Time `json:"lockout_until,omitempty"`
}

// Gated reports whether opening the bundle requires a passcode.
func (b *Bundle) Gated() bool {
	return b.PasswordHash != ""
}

// ExpiredAt reports whether the link lifetime has passed at now.
func (b *Bundle) ExpiredAt(now time.Time) bool {
	return b.LinkExpiry != nil && now.After(*b.LinkExpiry)
}

// StatusAt derives the display state without mutating the record. A link
// whose expiry has passed shows as expired even before anyone resolves it.
func (b *Bundle) StatusAt(now time.Time) Status {
	switch {
	case b.ExpiredAt(now):
		return StatusExpired
	case b.Revoked:
		return StatusRevoked
	default:
		return StatusActive
	}
}

// ItemCount returns the number of media items across all batches.
func (b *Bundle) ItemCount() int {
	n := 0
	for _, batch := range b.Batches {
		n += len(batch)
	}
	return n
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (b *Bundle) Clone() Bundle {
	out := *b
	out.Batches = make([]Batch, len(b.Batches))
	for i, batch := range b.Batches {
		out.Batches[i] = append(Batch(nil), batch...)
	}
	out.LinkExpiry = cloneTime(b.LinkExpiry)
	out.LastAccess = cloneTime(b.LastAccess)
	out.LockoutUntil = cloneTime(b.LockoutUntil)
	return out
}

// BundleView is the read-only projection handed to callers. It never
// carries passcode material.
type BundleView struct {
	Token       string      `json:"token"`
	Batches     []Batch     `json:"batches"`
	LinkExpiry  *time.Time  `json:"link_expiry,omitempty"`
	DeleteAfter Lifetime    `json:"delete_after"`
	CreatedAt   time.Time   `json:"created_at"`
	Owner       PrincipalID `json:"owner"`
	HitCount    int64       `json:"hit_count"`
	LastAccess  *time.Time  `json:"last_access,omitempty"`
	Revoked     bool        `json:"revoked"`
	Gated       bool        `json:"gated"`
	Status      Status      `json:"status"`
}

// View projects the record as seen at now.
func (b *Bundle) View(now time.Time) BundleView {
	c := b.Clone()
	return BundleView{
		Token:       c.Token,
		Batches:     c.Batches,
		LinkExpiry:  c.LinkExpiry,
		DeleteAfter: c.DeleteAfter,
		CreatedAt:   c.CreatedAt,
		Owner:       c.Owner,
		HitCount:    c.HitCount,
		LastAccess:  c.LastAccess,
		Revoked:     c.Revoked,
		Gated:       c.Gated(),
		Status:      b.StatusAt(now),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
