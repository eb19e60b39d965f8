package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vanish.share/config"
	"vanish.share/internal/bot"
	"vanish.share/internal/delivery"
	"vanish.share/internal/gc"
	"vanish.share/internal/intake"
	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/store"
	"vanish.share/internal/transport"
)

const (
	owner    models.PrincipalID = 501
	stranger models.PrincipalID = 502
	admin    models.PrincipalID = 900
)

var epoch = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock    clockwork.FakeClock
	registry *store.MemoryStore
	sink     *transport.Memory
	auth     *Authenticator
	router   http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	clock := clockwork.NewFakeClockAt(epoch)
	registry := store.NewMemoryStore(store.WithClock(clock))
	sink := transport.NewMemory()
	texts := messages.New("en")
	scheduler := delivery.NewScheduler(sink, texts, delivery.WithClock(clock))
	t.Cleanup(scheduler.Close)
	sessions := intake.NewManager(registry, sink, texts, intake.Config{Clock: clock, LinkFormat: cfg.Links.LinkFormat})
	b := bot.New(registry, sessions, scheduler, scheduler, sink, texts, bot.Config{Admins: []models.PrincipalID{admin}})
	auth := NewAuthenticator("test-secret", time.Hour, clock)

	return &fixture{
		clock:    clock,
		registry: registry,
		sink:     sink,
		auth:     auth,
		router: SetupRouter(Deps{
			Bot:       b,
			Links:     registry,
			Collector: gc.NewCollector(registry, 0, clock, nil, nil),
			Auth:      auth,
			Metrics:   metrics.New(nil),
		}, cfg),
	}
}

func (f *fixture) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := f.auth.Issue(subject, role, 0)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) issue(t *testing.T, o models.PrincipalID) string {
	t.Helper()
	token, err := f.registry.Issue(context.Background(), store.IssueParams{
		Batches: []models.Batch{{{Kind: models.KindPhoto, Ref: "p"}}},
		Owner:   o,
	})
	require.NoError(t, err)
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","links":0}`, rec.Body.String())

	f.issue(t, owner)
	rec = f.do(t, http.MethodGet, "/health", "", nil)
	assert.JSONEq(t, `{"status":"ok","links":1}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vanish_http_requests_total{method="GET",route="/health",status="200"} 2`)
}

func TestHooksRequireGatewayRole(t *testing.T) {
	f := newFixture(t, nil)
	body := HookRequest{Principal: int64(stranger)}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/hooks/start", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/hooks/start", "garbage", body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/hooks/start", f.token(t, owner.String(), RoleUser), body).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/hooks/start", f.token(t, "gateway", RoleGateway), body).Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.token(t, owner.String(), RoleUser)
	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/links", tok, nil).Code)
}

func TestComposeThroughHooksThenList(t *testing.T) {
	f := newFixture(t, nil)
	gw := f.token(t, "gateway", RoleGateway)
	p := int64(owner)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/hooks/media", gw, HookRequest{Principal: p, Media: &models.MediaItem{Kind: models.KindPhoto, Ref: "x"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	for _, data := range []string{"linkexp:3600", "delafter:60", "passcode:no"} {
		rec := f.do(t, http.MethodPost, "/api/hooks/selection", gw, HookRequest{Principal: p, Data: data})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/links", f.token(t, owner.String(), RoleUser), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LinksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Links, 1)
	assert.Equal(t, owner, resp.Links[0].Owner)
	assert.Equal(t, models.StatusActive, resp.Links[0].Status)

	rec = f.do(t, http.MethodGet, "/api/links", f.token(t, stranger.String(), RoleUser), nil)
	assert.JSONEq(t, `{"links":[]}`, rec.Body.String())
}

func TestHookErrors(t *testing.T) {
	f := newFixture(t, nil)
	gw := f.token(t, "gateway", RoleGateway)

	rec := f.do(t, http.MethodPost, "/api/hooks/selection", gw, HookRequest{Principal: int64(owner), Data: "delafter:60"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hooks/media", gw, HookRequest{Principal: int64(owner)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hooks/media", gw, HookRequest{Principal: int64(owner), Media: &models.MediaItem{Kind: "sticker", Ref: "s"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hooks/text", gw, HookRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/text", strings.NewReader("principal=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+gw)
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, raw.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/hooks/text", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gw)
	raw = httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestResetHookLetsChallengeAnswerThrough(t *testing.T) {
	f := newFixture(t, nil)
	gw := f.token(t, "gateway", RoleGateway)
	p := int64(stranger)
	token, err := f.registry.Issue(context.Background(), store.IssueParams{
		Batches:  []models.Batch{{{Kind: models.KindPhoto, Ref: "p"}}},
		Owner:    owner,
		Passcode: "opensesame",
	})
	require.NoError(t, err)

	post := func(path string, req HookRequest) {
		t.Helper()
		req.Principal = p
		rec := f.do(t, http.MethodPost, path, gw, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	post("/api/hooks/media", HookRequest{Media: &models.MediaItem{Kind: models.KindPhoto, Ref: "own"}})
	for _, data := range []string{"linkexp:3600", "delafter:60", "passcode:yes"} {
		post("/api/hooks/selection", HookRequest{Data: data})
	}
	post("/api/hooks/start", HookRequest{Payload: token})
	assert.Empty(t, mediaSent(f.sink, stranger))

	post("/api/hooks/reset", HookRequest{})
	post("/api/hooks/text", HookRequest{Text: "opensesame"})
	require.Len(t, mediaSent(f.sink, stranger), 1)
	assert.Equal(t, "p", mediaSent(f.sink, stranger)[0].Ref)
	assert.Empty(t, f.registry.ListFor(context.Background(), stranger, false), "the cancelled bundle was never issued")
}

func mediaSent(sink *transport.Memory, p models.PrincipalID) []models.MediaItem {
	var out []models.MediaItem
	for _, s := range sink.Sent(p) {
		if s.Media != nil {
			out = append(out, *s.Media)
		}
	}
	return out
}

func TestStartHookDeliversLink(t *testing.T) {
	f := newFixture(t, nil)
	token := f.issue(t, owner)

	rec := f.do(t, http.MethodPost, "/api/hooks/start", f.token(t, "gateway", RoleGateway), HookRequest{Principal: int64(stranger), Payload: token})
	require.Equal(t, http.StatusOK, rec.Code)
	sent := f.sink.Sent(stranger)
	require.Len(t, sent, 2)
	assert.NotNil(t, sent[0].Media)
}

func TestRevokeLink(t *testing.T) {
	f := newFixture(t, nil)
	token := f.issue(t, owner)
	path := "/api/links/" + token

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, path, f.token(t, stranger.String(), RoleUser), nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, f.token(t, owner.String(), RoleUser), nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, f.token(t, admin.String(), RoleUser), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/links/missing", f.token(t, owner.String(), RoleUser), nil).Code)

	_, err := f.registry.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, store.ErrRevoked)
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.registry.AddPrincipal(owner)
	f.registry.AddPrincipal(stranger)
	user := f.token(t, owner.String(), RoleUser)
	root := f.token(t, admin.String(), RoleUser)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/principals", user, nil).Code)
	rec := f.do(t, http.MethodGet, "/api/principals", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"principals":[501,502]}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/broadcast", user, BroadcastRequest{Text: "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/broadcast", root, BroadcastRequest{}).Code)
	rec = f.do(t, http.MethodPost, "/api/broadcast", root, BroadcastRequest{Text: "hello all"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":2,"failed":0}`, rec.Body.String())
	assert.Equal(t, []string{"hello all"}, f.sink.Texts(owner))

	clip := &models.MediaItem{Kind: models.KindVideo, Ref: "v"}
	rec = f.do(t, http.MethodPost, "/api/broadcast", root, BroadcastRequest{Media: clip})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := f.sink.Sent(stranger)
	require.Len(t, sent, 3)
	assert.Equal(t, *clip, *sent[1].Media)
	assert.Equal(t, messages.New("en").Get(messages.AdminMessage), sent[2].Message.Text)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/broadcast", root, BroadcastRequest{Media: &models.MediaItem{Kind: models.KindVideo}}).Code)

	token := f.issue(t, owner)
	require.NoError(t, f.registry.Revoke(context.Background(), token, owner, false))
	f.clock.Advance(31 * 24 * time.Hour)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/gc", f.token(t, owner.String(), RoleUser), nil).Code)
	rec = f.do(t, http.MethodPost, "/api/gc", f.token(t, admin.String(), RoleUser), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RateLimit.RequestsPerMin = 2 })
	tok := f.token(t, owner.String(), RoleUser)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/links", tok, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/links", tok, nil).Code)
	rec := f.do(t, http.MethodGet, "/api/links", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAuthenticatorRejectsBadInput(t *testing.T) {
	a := NewAuthenticator("s", time.Hour, nil)
	_, err := a.Issue("not-a-number", RoleUser, 0)
	assert.Error(t, err)
	_, err = a.Issue("x", "root", 0)
	assert.Error(t, err)

	other := NewAuthenticator("different", time.Hour, nil)
	tok, err := other.Issue("7", RoleUser, 0)
	require.NoError(t, err)
	_, err = a.Validate(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)

	tok, err = a.Issue("7", RoleUser, -1)
	require.NoError(t, err)
	id, err := a.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, models.PrincipalID(7), id.Principal)
}
