package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vanish.share/internal/api"
	"vanish.share/internal/models"
	"vanish.share/internal/persistence"
	"vanish.share/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--role", "user", "--subject", "42", "--ttl", "1h")
	require.NoError(t, err)

	id, err := api.NewAuthenticator("cli-secret", time.Hour, nil).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, api.RoleUser, id.Role)
	assert.Equal(t, models.PrincipalID(42), id.Principal)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, "token", "--role", "gateway", "--subject", "gw", "--ttl", "0")
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestSnapshotInspect(t *testing.T) {
	registry := store.NewMemoryStore()
	_, err := registry.Issue(context.Background(), store.IssueParams{
		Batches:  []models.Batch{{{Kind: models.KindPhoto, Ref: "a"}, {Kind: models.KindPhoto, Ref: "b"}}},
		Owner:    1,
		Passcode: "secret1",
	})
	require.NoError(t, err)
	registry.AddPrincipal(1)

	codec, err := persistence.NewCodec(persistence.FormatCBOR, persistence.CompressionZstd)
	require.NoError(t, err)
	data, err := codec.Encode(registry.Snapshot())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "registry.snap")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := execute(t, "snapshot", "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Links:      1 (1 active, 0 expired, 0 revoked)")
	assert.Contains(t, out, "Gated:      1")
	assert.Contains(t, out, "Media:      2 items")
	assert.Contains(t, out, "Principals: 1")
}
