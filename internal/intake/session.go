// Package intake runs the per-principal conversation that assembles a
// bundle and its settings before committing it to the registry.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/passcode"
	"vanish.share/internal/store"
	"vanish.share/internal/transport"
)

type State int

const (
	Idle State = iota
	CollectingMedia
	AwaitingLinkExpiry
	AwaitingDeleteAfter
	AwaitingPasscodeChoice
	AwaitingPasscodeInput
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CollectingMedia:
		return "collecting_media"
	case AwaitingLinkExpiry:
		return "awaiting_link_expiry"
	case AwaitingDeleteAfter:
		return "awaiting_delete_after"
	case AwaitingPasscodeChoice:
		return "awaiting_passcode_choice"
	case AwaitingPasscodeInput:
		return "awaiting_passcode_input"
	}
	return "unknown"
}

var (
	ErrEmptyBundle     = fmt.Errorf("%w: bundle has no media", store.ErrInvalidInput)
	ErrInvalidPasscode = fmt.Errorf("%w: passcode must be %d to %d characters", store.ErrInvalidInput, passcode.MinLength, passcode.MaxLength)
	ErrOutOfSequence   = fmt.Errorf("%w: input does not match the current step", store.ErrInvalidInput)
	ErrBadSelection    = fmt.Errorf("%w: unrecognized selection", store.ErrInvalidInput)
)

// Selection payload prefixes carried by choice buttons.
const (
	PrefixLinkExpiry  = "linkexp:"
	PrefixDeleteAfter = "delafter:"
	PrefixPasscode    = "passcode:"
)

// Issuer commits a finished bundle.
type Issuer interface {
	Issue(ctx context.Context, params store.IssueParams) (string, error)
}

// Outcome reports what an inbound event did. Token is set when the event
// committed a bundle.
type Outcome struct {
	Handled bool
	Token   string
}

type session struct {
	mu          sync.Mutex
	retired     bool
	state       State
	pending     []models.MediaItem
	linkExpiry  models.Lifetime
	deleteAfter models.Lifetime
}

func (s *session) reset() {
	s.state = Idle
	s.pending = nil
	s.linkExpiry = models.Unlimited
	s.deleteAfter = models.Unlimited
}

// Manager holds exactly one session per principal. Events for one
// principal are serialized; different principals proceed in parallel.
type Manager struct {
	mu       sync.Mutex
	sessions map[models.PrincipalID]*session

	issuer     Issuer
	sink       transport.Sink
	texts      *messages.Localizer
	linkFormat string
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type Config struct {
	// LinkFormat turns a token into a share link with fmt.Sprintf.
	LinkFormat string
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func NewManager(issuer Issuer, sink transport.Sink, texts *messages.Localizer, cfg Config) *Manager {
	if cfg.LinkFormat == "" {
		cfg.LinkFormat = "%s"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		sessions:   make(map[models.PrincipalID]*session),
		issuer:     issuer,
		sink:       sink,
		texts:      texts,
		linkFormat: cfg.LinkFormat,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// acquire returns the principal's live session locked, creating it if
// needed. A session retired while the caller waited is skipped.
func (m *Manager) acquire(p models.PrincipalID) *session {
	for {
		m.mu.Lock()
		s, ok := m.sessions[p]
		if !ok {
			s = &session{}
			m.sessions[p] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.retired {
			return s
		}
		s.mu.Unlock()
	}
}

// retire clears s and drops it from the map. The caller holds s.mu.
func (m *Manager) retire(p models.PrincipalID, s *session) {
	s.reset()
	s.retired = true
	m.mu.Lock()
	if m.sessions[p] == s {
		delete(m.sessions, p)
	}
	m.mu.Unlock()
}

// release unlocks s, first dropping it if it holds nothing.
func (m *Manager) release(p models.PrincipalID, s *session) {
	if !s.retired && s.state == Idle && len(s.pending) == 0 {
		m.retire(p, s)
	}
	s.mu.Unlock()
}

func (m *Manager) lookup(p models.PrincipalID) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[p]
	return s, ok
}

// State reports where the principal's session currently stands.
func (m *Manager) State(p models.PrincipalID) State {
	s, ok := m.lookup(p)
	if !ok {
		return Idle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns a copy of the media collected so far.
func (m *Manager) Pending(p models.PrincipalID) []models.MediaItem {
	s, ok := m.lookup(p)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MediaItem(nil), s.pending...)
}

func (m *Manager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reset drops any in-progress composition. It reports whether there was
// one.
func (m *Manager) Reset(p models.PrincipalID) bool {
	if _, ok := m.lookup(p); !ok {
		return false
	}
	s := m.acquire(p)
	defer s.mu.Unlock()
	had := s.state != Idle || len(s.pending) > 0
	m.retire(p, s)
	return had
}

// OnMedia appends an item to the pending bundle. Only the first item of a
// session triggers the link expiry prompt.
func (m *Manager) OnMedia(ctx context.Context, p models.PrincipalID, item models.MediaItem) error {
	if !item.Kind.Valid() || item.Ref == "" {
		return fmt.Errorf("%w: malformed media item", store.ErrInvalidInput)
	}

	s := m.acquire(p)
	defer s.mu.Unlock()

	s.pending = append(s.pending, item)
	if s.state != Idle && s.state != CollectingMedia {
		return nil
	}

	s.state = CollectingMedia
	msg := transport.Message{
		Text:    m.texts.Get(messages.AskLinkExpiry),
		Choices: m.lifetimeChoices(PrefixLinkExpiry),
	}
	if _, err := m.sink.Send(ctx, p, msg); err != nil {
		// Stay in CollectingMedia so the next item prompts again.
		m.logger.Warn("send link expiry prompt failed", zap.Stringer("principal", p), zap.Error(err))
		return nil
	}
	s.state = AwaitingLinkExpiry
	return nil
}

// OnSelection handles a choice button press.
func (m *Manager) OnSelection(ctx context.Context, p models.PrincipalID, data string) (Outcome, error) {
	switch {
	case strings.HasPrefix(data, PrefixLinkExpiry):
		lt, err := models.ParseLifetime(strings.TrimPrefix(data, PrefixLinkExpiry))
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		return Outcome{Handled: true}, m.onLinkExpiry(ctx, p, lt)
	case strings.HasPrefix(data, PrefixDeleteAfter):
		lt, err := models.ParseLifetime(strings.TrimPrefix(data, PrefixDeleteAfter))
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrBadSelection, err)
		}
		return Outcome{Handled: true}, m.onDeleteAfter(ctx, p, lt)
	case data == PrefixPasscode+"yes":
		return m.onPasscodeChoice(ctx, p, true)
	case data == PrefixPasscode+"no":
		return m.onPasscodeChoice(ctx, p, false)
	}
	return Outcome{}, ErrBadSelection
}

func (m *Manager) onLinkExpiry(ctx context.Context, p models.PrincipalID, lt models.Lifetime) error {
	s := m.acquire(p)
	defer m.release(p, s)

	if s.state != AwaitingLinkExpiry {
		return ErrOutOfSequence
	}
	s.linkExpiry = lt
	s.state = AwaitingDeleteAfter
	m.send(ctx, p, transport.Message{
		Text:    m.texts.Get(messages.AskDeleteAfter),
		Choices: m.lifetimeChoices(PrefixDeleteAfter),
	})
	return nil
}

func (m *Manager) onDeleteAfter(ctx context.Context, p models.PrincipalID, lt models.Lifetime) error {
	s := m.acquire(p)
	defer m.release(p, s)

	if s.state != AwaitingDeleteAfter {
		return ErrOutOfSequence
	}
	s.deleteAfter = lt
	if len(s.pending) == 0 {
		m.retire(p, s)
		m.send(ctx, p, transport.Message{Text: m.texts.Get(messages.EmptyBundle)})
		return ErrEmptyBundle
	}
	s.state = AwaitingPasscodeChoice
	m.send(ctx, p, transport.Message{
		Text: m.texts.Get(messages.AskPasscodeChoice),
		Choices: [][]transport.Choice{{
			{Label: m.texts.Get(messages.ChoiceYes), Data: PrefixPasscode + "yes"},
			{Label: m.texts.Get(messages.ChoiceNo), Data: PrefixPasscode + "no"},
		}},
	})
	return nil
}

func (m *Manager) onPasscodeChoice(ctx context.Context, p models.PrincipalID, protect bool) (Outcome, error) {
	s := m.acquire(p)
	defer m.release(p, s)

	if s.state != AwaitingPasscodeChoice {
		return Outcome{}, ErrOutOfSequence
	}
	if !protect {
		token, err := m.commit(ctx, p, s, "")
		return Outcome{Handled: true, Token: token}, err
	}
	s.state = AwaitingPasscodeInput
	m.send(ctx, p, transport.Message{Text: m.texts.Get(messages.AskPasscode), ForceReply: true})
	return Outcome{Handled: true}, nil
}

// OnText consumes free text when the session is waiting for a passcode.
// Any other text is left unhandled for the caller.
func (m *Manager) OnText(ctx context.Context, p models.PrincipalID, text string) (Outcome, error) {
	if _, ok := m.lookup(p); !ok {
		return Outcome{}, nil
	}
	s := m.acquire(p)
	defer m.release(p, s)

	if s.state != AwaitingPasscodeInput {
		return Outcome{}, nil
	}
	if !passcode.ValidLength(text) {
		m.send(ctx, p, transport.Message{Text: m.texts.Get(messages.PasscodeLength), ForceReply: true})
		return Outcome{Handled: true}, ErrInvalidPasscode
	}
	token, err := m.commit(ctx, p, s, text)
	return Outcome{Handled: true, Token: token}, err
}

// commit issues the bundle and returns the session to Idle. On failure the
// session keeps its state so the last step can be retried.
func (m *Manager) commit(ctx context.Context, p models.PrincipalID, s *session, plaintext string) (string, error) {
	if len(s.pending) == 0 {
		m.retire(p, s)
		return "", ErrEmptyBundle
	}

	token, err := m.issuer.Issue(ctx, store.IssueParams{
		Batches:     models.Chunk(s.pending),
		LinkExpiry:  s.linkExpiry.After(m.clock.Now()),
		DeleteAfter: s.deleteAfter,
		Owner:       p,
		Passcode:    plaintext,
	})
	if err != nil {
		return "", fmt.Errorf("issue link: %w", err)
	}

	linkExpiry, deleteAfter := s.linkExpiry, s.deleteAfter
	items := len(s.pending)
	m.retire(p, s)

	m.metrics.LinkIssued()
	m.logger.Info("link issued",
		zap.Stringer("owner", p),
		zap.String("token", token),
		zap.Int("items", items),
		zap.Bool("passcode", plaintext != ""),
	)
	m.send(ctx, p, transport.Message{Text: m.texts.Get(messages.LinkReady,
		fmt.Sprintf(m.linkFormat, token),
		m.texts.Lifetime(linkExpiry),
		m.texts.Lifetime(deleteAfter),
	)})
	return token, nil
}

func (m *Manager) send(ctx context.Context, p models.PrincipalID, msg transport.Message) {
	if _, err := m.sink.Send(ctx, p, msg); err != nil {
		m.logger.Warn("send prompt failed", zap.Stringer("principal", p), zap.Error(err))
	}
}

// lifetimeChoices lays the presets out two per row.
func (m *Manager) lifetimeChoices(prefix string) [][]transport.Choice {
	var rows [][]transport.Choice
	for i, lt := range messages.Presets {
		choice := transport.Choice{Label: m.texts.PresetLabel(lt), Data: prefix + models.FormatLifetime(lt)}
		if i%2 == 0 {
			rows = append(rows, []transport.Choice{choice})
		} else {
			rows[len(rows)-1] = append(rows[len(rows)-1], choice)
		}
	}
	return rows
}
