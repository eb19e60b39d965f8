package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vanish.share/internal/models"
	"vanish.share/internal/store"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)

func populated(t *testing.T) *store.MemoryStore {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	s := store.NewMemoryStore(store.WithClock(clock))
	expiry := epoch.Add(24 * time.Hour)
	ctx := context.Background()

	_, err := s.Issue(ctx, store.IssueParams{
		Batches:     []models.Batch{{{Kind: models.KindPhoto, Ref: "p1"}, {Kind: models.KindVideo, Ref: "v1"}}},
		LinkExpiry:  &expiry,
		DeleteAfter: models.Seconds(3600),
		Owner:       42,
		Passcode:    "hunter22",
	})
	require.NoError(t, err)
	_, err = s.Issue(ctx, store.IssueParams{
		Batches:     []models.Batch{{{Kind: models.KindDocument, Ref: "d1", Filename: "a.pdf"}}},
		DeleteAfter: models.Unlimited,
		Owner:       7,
	})
	require.NoError(t, err)
	s.AddPrincipal(42)
	s.AddPrincipal(7)
	return s
}

func TestCodecRoundTrips(t *testing.T) {
	doc := populated(t).Snapshot()
	doc.SavedAt = epoch

	for _, format := range []string{FormatJSON, FormatCBOR} {
		for _, compression := range []string{CompressionNone, CompressionZstd} {
			t.Run(format+"/"+compression, func(t *testing.T) {
				codec, err := NewCodec(format, compression)
				require.NoError(t, err)
				data, err := codec.Encode(doc)
				require.NoError(t, err)

				if compression == CompressionZstd {
					assert.Equal(t, zstdMagic, data[:4])
				}

				got, err := Decode(data)
				require.NoError(t, err)
				assert.Equal(t, doc.Version, got.Version)
				assert.True(t, doc.SavedAt.Equal(got.SavedAt))
				assert.Equal(t, doc.Principals, got.Principals)
				require.Len(t, got.Bundles, len(doc.Bundles))
				for i := range doc.Bundles {
					assert.Equal(t, doc.Bundles[i].Token, got.Bundles[i].Token)
					assert.Equal(t, doc.Bundles[i].Batches, got.Bundles[i].Batches)
					assert.Equal(t, doc.Bundles[i].DeleteAfter, got.Bundles[i].DeleteAfter)
					assert.True(t, doc.Bundles[i].CreatedAt.Equal(got.Bundles[i].CreatedAt))
					assert.Equal(t, doc.Bundles[i].Gated(), got.Bundles[i].Gated())
				}
			})
		}
	}
}

func TestCodecRejectsUnknownSettings(t *testing.T) {
	_, err := NewCodec("xml", "")
	assert.Error(t, err)
	_, err = NewCodec("", "gzip")
	assert.Error(t, err)

	codec, err := NewCodec("", "")
	require.NoError(t, err)
	data, err := codec.Encode(store.Document{Version: store.DocumentVersion})
	require.NoError(t, err)
	assert.Equal(t, byte('{'), data[0])
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
	_, err = Decode(append(append([]byte{}, zstdMagic...), 1, 2, 3))
	assert.Error(t, err)
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.snap")
	b, err := NewFileBackend(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, b.Save(ctx, []byte("first")))
	require.NoError(t, b.Save(ctx, []byte("second")))
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

type memBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
	saved chan struct{}
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	if m.saved != nil {
		m.saved <- struct{}{}
	}
	return nil
}

func (m *memBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return m.data, nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestSnapshotterSkipsUnchangedState(t *testing.T) {
	src := populated(t)
	backend := &memBackend{}
	codec, err := NewCodec(FormatCBOR, CompressionZstd)
	require.NoError(t, err)
	s := NewSnapshotter(src, backend, codec, SnapshotterConfig{})
	ctx := context.Background()

	wrote, err := s.SaveNow(ctx)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.SaveNow(ctx)
	require.NoError(t, err)
	assert.False(t, wrote)

	src.AddPrincipal(99)
	wrote, err = s.SaveNow(ctx)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 2, backend.count())
}

func TestSnapshotterFailureRetries(t *testing.T) {
	src := populated(t)
	backend := &memBackend{err: errors.New("disk full")}
	codec, _ := NewCodec("", "")
	s := NewSnapshotter(src, backend, codec, SnapshotterConfig{})

	_, err := s.SaveNow(context.Background())
	assert.ErrorContains(t, err, "disk full")

	backend.err = nil
	wrote, err := s.SaveNow(context.Background())
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestSnapshotterRestore(t *testing.T) {
	src := populated(t)
	backend := &memBackend{}
	codec, _ := NewCodec(FormatJSON, CompressionZstd)
	_, err := NewSnapshotter(src, backend, codec, SnapshotterConfig{}).SaveNow(context.Background())
	require.NoError(t, err)

	fresh := store.NewMemoryStore(store.WithClock(clockwork.NewFakeClockAt(epoch)))
	restorer := NewSnapshotter(fresh, backend, codec, SnapshotterConfig{})
	n, err := restorer.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, src.Principals(), fresh.Principals())

	for _, b := range src.Snapshot().Bundles {
		view, err := fresh.Resolve(context.Background(), b.Token)
		require.NoError(t, err)
		assert.Equal(t, b.Owner, view.Owner)
	}

	wrote, err := restorer.SaveNow(context.Background())
	require.NoError(t, err)
	assert.False(t, wrote, "restored state is already persisted")
}

func TestSnapshotterRestoreEmptyBackend(t *testing.T) {
	s := NewSnapshotter(store.NewMemoryStore(), &memBackend{}, Codec{}, SnapshotterConfig{})
	n, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotterRestoreRejectsNewerVersion(t *testing.T) {
	codec, _ := NewCodec("", "")
	data, err := codec.Encode(store.Document{Version: store.DocumentVersion + 1})
	require.NoError(t, err)
	s := NewSnapshotter(store.NewMemoryStore(), &memBackend{data: data}, codec, SnapshotterConfig{})
	_, err = s.Restore(context.Background())
	assert.Error(t, err)
}

func TestSnapshotterRunTicksAndSavesOnShutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := populated(t)
	backend := &memBackend{saved: make(chan struct{}, 4)}
	codec, _ := NewCodec("", "")
	s := NewSnapshotter(src, backend, codec, SnapshotterConfig{Interval: time.Minute, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	<-backend.saved

	src.AddPrincipal(1234)
	cancel()
	<-done
	assert.Equal(t, 2, backend.count())
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("VANISH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VANISH_TEST_REDIS_ADDR not set")
	}
	b, err := NewRedisBackend(&redis.Options{Addr: addr}, "vanish:test:snapshot")
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []byte("payload")))
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestS3Backend(t *testing.T) {
	endpoint := os.Getenv("VANISH_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("VANISH_TEST_S3_ENDPOINT not set")
	}
	b, err := NewS3Backend(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("VANISH_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("VANISH_TEST_S3_SECRET_KEY"),
		Bucket:    "vanish-test",
		Object:    "snapshot-" + time.Now().Format("20060102150405"),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.EnsureBucket(ctx))

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	require.NoError(t, b.Save(ctx, []byte("payload")))
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("VANISH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VANISH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	b := NewPostgresBackend(pool, "test-"+time.Now().Format("150405.000"))
	defer b.Close()
	require.NoError(t, b.EnsureSchema(ctx))

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	require.NoError(t, b.Save(ctx, []byte("one")))
	require.NoError(t, b.Save(ctx, []byte("two")))
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}
