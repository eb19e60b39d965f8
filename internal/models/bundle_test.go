package models

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkSplitsAtTransportLimit(t *testing.T) {
	items := make([]MediaItem, 23)
	for i := range items {
		items[i] = MediaItem{Kind: KindPhoto, Ref: string(rune('a' + i))}
	}

	batches := Chunk(items)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 3)
	assert.Equal(t, items[20], batches[2][0])

	assert.Empty(t, Chunk(nil))
}

func TestLifetimeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Lifetime `json:"a"`
		B Lifetime `json:"b"`
	}{A: Seconds(3600), B: Unlimited})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":3600,"b":null}`, string(data))

	var out struct {
		A Lifetime `json:"a"`
		B Lifetime `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, Seconds(3600), out.A)
	assert.True(t, out.B.IsUnlimited())
}

func TestParseLifetime(t *testing.T) {
	l, err := ParseLifetime("none")
	require.NoError(t, err)
	assert.True(t, l.IsUnlimited())

	l, err = ParseLifetime("86400")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, l.Duration())
	assert.Equal(t, "86400", FormatLifetime(l))

	_, err = ParseLifetime("-5")
	assert.Error(t, err)
	_, err = ParseLifetime("soon")
	assert.Error(t, err)

	l, err = ParseLifetime(strconv.FormatInt(MaxLifetimeSeconds, 10))
	require.NoError(t, err)
	assert.False(t, l.IsUnlimited())
	assert.Positive(t, l.Duration())

	for _, s := range []string{"9223372036854775807", "18446744074", strconv.FormatInt(MaxLifetimeSeconds+1, 10)} {
		_, err = ParseLifetime(s)
		assert.Error(t, err, s)
	}
}

func TestLifetimeJSONRejectsOverflow(t *testing.T) {
	var l Lifetime
	require.NoError(t, json.Unmarshal([]byte("3600"), &l))
	assert.Equal(t, time.Hour, l.Duration())

	assert.Error(t, json.Unmarshal([]byte("18446744074"), &l))
	assert.Error(t, json.Unmarshal([]byte("-1"), &l))
}

func TestStatusAtDerivesExpiryWithoutMutation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Bundle{Token: "t", CreatedAt: now, LinkExpiry: Seconds(60).After(now)}

	assert.Equal(t, StatusActive, b.StatusAt(now))
	assert.Equal(t, StatusExpired, b.StatusAt(now.Add(61*time.Second)))
	assert.False(t, b.Revoked)

	b.Revoked = true
	assert.Equal(t, StatusRevoked, b.StatusAt(now))
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	b := &Bundle{
		Token:      "t",
		Batches:    []Batch{{{Kind: KindPhoto, Ref: "p1"}}},
		LinkExpiry: &now,
	}
	c := b.Clone()
	c.Batches[0][0].Ref = "changed"
	*c.LinkExpiry = now.Add(time.Hour)

	assert.Equal(t, "p1", b.Batches[0][0].Ref)
	assert.Equal(t, now, *b.LinkExpiry)
}
