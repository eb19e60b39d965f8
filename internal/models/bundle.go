package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// MaxBatchSize is the most media items the transport accepts in one group.
const MaxBatchSize = 10

// PrincipalID identifies a user talking to the bot.
type PrincipalID int64

func (p PrincipalID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ParsePrincipalID parses the decimal form produced by String.
func ParsePrincipalID(s string) (PrincipalID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid principal id %q: %w", s, err)
	}
	return PrincipalID(id), nil
}

type MediaKind string

const (
	KindPhoto    MediaKind = "photo"
	KindVideo    MediaKind = "video"
	KindDocument MediaKind = "document"
)

func (k MediaKind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument:
		return true
	}
	return false
}

// MediaItem references media already held by the transport. Filename is
// only meaningful for documents.
type MediaItem struct {
	Kind     MediaKind `json:"kind"`
	Ref      string    `json:"ref"`
	Filename string    `json:"filename,omitempty"`
}

// Batch is a group of at most MaxBatchSize items delivered together.
type Batch []MediaItem

// Chunk splits items into batches of at most MaxBatchSize, preserving order.
func Chunk(items []MediaItem) []Batch {
	var batches []Batch
	for start := 0; start < len(items); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := make(Batch, end-start)
		copy(batch, items[start:end])
		batches = append(batches, batch)
	}
	return batches
}

// Lifetime is a duration where zero means unlimited. It is persisted as
// whole seconds, or null when unlimited.
type Lifetime time.Duration

const Unlimited Lifetime = 0

// MaxLifetimeSeconds is the longest lifetime a time.Duration can hold.
const MaxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

// Seconds builds a Lifetime from a number of seconds.
func Seconds(n int64) Lifetime {
	return Lifetime(time.Duration(n) * time.Second)
}

func (l Lifetime) IsUnlimited() bool { return l <= 0 }

func (l Lifetime) Duration() time.Duration { return time.Duration(l) }

func (l Lifetime) Seconds() int64 { return int64(time.Duration(l) / time.Second) }

// After returns the absolute deadline for a lifetime starting at t, or nil
// when the lifetime is unlimited.
func (l Lifetime) After(t time.Time) *time.Time {
	if l.IsUnlimited() {
		return nil
	}
	deadline := t.Add(l.Duration())
	return &deadline
}

func (l Lifetime) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(l.Seconds(), 10)), nil
}

func (l *Lifetime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = Unlimited
		return nil
	}
	var secs int64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("lifetime: %w", err)
	}
	if secs < 0 || secs > MaxLifetimeSeconds {
		return fmt.Errorf("invalid lifetime %d", secs)
	}
	*l = Seconds(secs)
	return nil
}

// ParseLifetime reads the wire form used in selection payloads: "none" for
// unlimited, otherwise a positive number of seconds.
func ParseLifetime(s string) (Lifetime, error) {
	if s == "none" {
		return Unlimited, nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 || secs > MaxLifetimeSeconds {
		return Unlimited, fmt.Errorf("invalid lifetime %q", s)
	}
	return Seconds(secs), nil
}

// FormatLifetime is the inverse of ParseLifetime.
func FormatLifetime(l Lifetime) string {
	if l.IsUnlimited() {
		return "none"
	}
	return strconv.FormatInt(l.Seconds(), 10)
}
