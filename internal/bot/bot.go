// Package bot dispatches inbound chat events: starting and opening links,
// composing bundles, answering passcode challenges and admin broadcasts.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"vanish.share/internal/delivery"
	"vanish.share/internal/intake"
	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/passcode"
	"vanish.share/internal/store"
	"vanish.share/internal/transport"
)

var ErrNotAdmin = fmt.Errorf("%w: admin only", store.ErrForbidden)

// Registry is the part of the link registry the bot drives.
type Registry interface {
	AddPrincipal(id models.PrincipalID) bool
	Principals() []models.PrincipalID
	Resolve(ctx context.Context, token string) (models.BundleView, error)
	Authenticate(ctx context.Context, token, plaintext string) (passcode.Result, error)
	RecordAccess(ctx context.Context, token string) error
}

type Deliverer interface {
	Deliver(ctx context.Context, chat models.PrincipalID, view models.BundleView) delivery.Delivery
}

type Config struct {
	Admins               []models.PrincipalID
	ForwardMediaToAdmins bool
	Metrics              *metrics.Metrics
	Logger               *zap.Logger
}

type Bot struct {
	registry   Registry
	intake     *intake.Manager
	deliverer  Deliverer
	destructor delivery.Destructor
	sink       transport.Sink
	texts      *messages.Localizer

	admins       map[models.PrincipalID]struct{}
	forwardMedia bool
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu         sync.Mutex
	challenges map[models.PrincipalID]string
}

func New(registry Registry, sessions *intake.Manager, deliverer Deliverer, destructor delivery.Destructor, sink transport.Sink, texts *messages.Localizer, cfg Config) *Bot {
	admins := make(map[models.PrincipalID]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bot{
		registry:     registry,
		intake:       sessions,
		deliverer:    deliverer,
		destructor:   destructor,
		sink:         sink,
		texts:        texts,
		admins:       admins,
		forwardMedia: cfg.ForwardMediaToAdmins,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		challenges:   make(map[models.PrincipalID]string),
	}
}

func (b *Bot) IsAdmin(p models.PrincipalID) bool {
	_, ok := b.admins[p]
	return ok
}

// OnStart registers the principal. Without a payload it greets; with one it
// opens the link the payload names.
func (b *Bot) OnStart(ctx context.Context, p models.PrincipalID, payload string) error {
	b.registry.AddPrincipal(p)
	if payload == "" {
		b.notify(ctx, p, transport.Message{Text: b.texts.Get(messages.Welcome)})
		return nil
	}
	return b.open(ctx, p, payload)
}

func (b *Bot) OnMedia(ctx context.Context, p models.PrincipalID, item models.MediaItem) error {
	err := b.intake.OnMedia(ctx, p, item)
	if err == nil && b.forwardMedia && !b.IsAdmin(p) {
		b.forwardToAdmins(ctx, p, item)
	}
	return err
}

// OnText feeds the intake session first. Text it does not consume answers a
// pending passcode challenge, if any.
func (b *Bot) OnText(ctx context.Context, p models.PrincipalID, text string) error {
	out, err := b.intake.OnText(ctx, p, text)
	if out.Handled || err != nil {
		return err
	}

	b.mu.Lock()
	token, ok := b.challenges[p]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.attempt(ctx, p, token, text)
}

// OnReset abandons the principal's composition. A pending passcode
// challenge is left in place.
func (b *Bot) OnReset(ctx context.Context, p models.PrincipalID) error {
	key := messages.NothingToCancel
	if b.intake.Reset(p) {
		key = messages.ComposeCancelled
	}
	b.notify(ctx, p, transport.Message{Text: b.texts.Get(key)})
	return nil
}

func (b *Bot) OnSelection(ctx context.Context, p models.PrincipalID, data string) error {
	_, err := b.intake.OnSelection(ctx, p, data)
	return err
}

func (b *Bot) open(ctx context.Context, p models.PrincipalID, token string) error {
	view, err := b.registry.Resolve(ctx, token)
	if err != nil {
		return b.unavailable(ctx, p, err)
	}
	b.metrics.Resolution("ok")

	if view.Gated && view.Owner != p && !b.IsAdmin(p) {
		b.mu.Lock()
		b.challenges[p] = token
		b.mu.Unlock()
		b.notify(ctx, p, transport.Message{Text: b.texts.Get(messages.EnterPasscode), ForceReply: true})
		return nil
	}
	return b.release(ctx, p, view)
}

// attempt runs exactly one passcode verification against a fresh resolve
// of the challenged link.
func (b *Bot) attempt(ctx context.Context, p models.PrincipalID, token, plaintext string) error {
	view, err := b.registry.Resolve(ctx, token)
	if err != nil {
		b.clearChallenge(p)
		return b.unavailable(ctx, p, err)
	}

	res, err := b.registry.Authenticate(ctx, token, plaintext)
	if err != nil {
		b.clearChallenge(p)
		return b.unavailable(ctx, p, err)
	}
	b.metrics.PasscodeAttempt(res.Outcome.String())

	switch res.Outcome {
	case passcode.Allowed:
		b.clearChallenge(p)
		return b.release(ctx, p, view)
	case passcode.Denied:
		b.notify(ctx, p, transport.Message{Text: b.texts.Get(messages.PasscodeDenied, res.RemainingTries), ForceReply: true})
	case passcode.LockedOut:
		b.clearChallenge(p)
		b.notify(ctx, p, transport.Message{Text: b.texts.Get(messages.PasscodeLocked, res.RemainingSeconds)})
	}
	return nil
}

// release records the access, delivers the bundle and arms its deletion.
func (b *Bot) release(ctx context.Context, p models.PrincipalID, view models.BundleView) error {
	if err := b.registry.RecordAccess(ctx, view.Token); err != nil {
		return b.unavailable(ctx, p, err)
	}
	d := b.deliverer.Deliver(ctx, p, view)
	if err := b.destructor.Arm(ctx, p, d.MessageIDs, view.DeleteAfter); err != nil {
		return fmt.Errorf("arm deletion for %s: %w", d.ID, err)
	}
	return nil
}

// unavailable tells the principal why a link cannot be opened. Registry
// outcomes are answered, not returned; anything else is returned.
func (b *Bot) unavailable(ctx context.Context, p models.PrincipalID, err error) error {
	var key, result string
	switch {
	case errors.Is(err, store.ErrNotFound):
		key, result = messages.LinkNotFound, "not_found"
	case errors.Is(err, store.ErrExpired):
		key, result = messages.LinkExpired, "expired"
	case errors.Is(err, store.ErrRevoked):
		key, result = messages.LinkRevoked, "revoked"
	default:
		return err
	}
	b.metrics.Resolution(result)
	b.notify(ctx, p, transport.Message{Text: b.texts.Get(key)})
	return nil
}

func (b *Bot) clearChallenge(p models.PrincipalID) {
	b.mu.Lock()
	delete(b.challenges, p)
	b.mu.Unlock()
}

// Challenged returns the token p must answer a passcode for, if any.
func (b *Bot) Challenged(p models.PrincipalID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token, ok := b.challenges[p]
	return token, ok
}

func (b *Bot) forwardToAdmins(ctx context.Context, from models.PrincipalID, item models.MediaItem) {
	caption := transport.Message{Text: b.texts.Get(messages.ForwardedFrom, from.String())}
	for admin := range b.admins {
		if _, err := b.sink.SendMedia(ctx, admin, models.Batch{item}); err != nil {
			b.logger.Warn("forward media to admin failed", zap.Stringer("admin", admin), zap.Error(err))
			continue
		}
		b.notify(ctx, admin, caption)
	}
}

// BroadcastResult counts recipients of one broadcast.
type BroadcastResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Broadcast sends text, or media followed by an admin caption, to every
// known principal except the sender. One failing recipient does not stop
// the rest.
func (b *Bot) Broadcast(ctx context.Context, sender models.PrincipalID, text string, media *models.MediaItem) (BroadcastResult, error) {
	if !b.IsAdmin(sender) {
		b.notify(ctx, sender, transport.Message{Text: b.texts.Get(messages.NotAdmin)})
		return BroadcastResult{}, ErrNotAdmin
	}
	if media == nil && text == "" {
		return BroadcastResult{}, fmt.Errorf("%w: empty broadcast", store.ErrInvalidInput)
	}
	if media != nil && (!media.Kind.Valid() || media.Ref == "") {
		return BroadcastResult{}, fmt.Errorf("%w: malformed broadcast media", store.ErrInvalidInput)
	}

	caption := text
	if media != nil {
		caption = b.texts.Get(messages.AdminMessage)
		if text != "" {
			caption += "\n" + text
		}
	}

	var res BroadcastResult
	for _, p := range b.registry.Principals() {
		if p == sender {
			continue
		}
		if err := b.broadcastTo(ctx, p, caption, media); err != nil {
			b.logger.Debug("broadcast recipient failed", zap.Stringer("principal", p), zap.Error(err))
			res.Failed++
			continue
		}
		res.Delivered++
	}
	b.logger.Info("broadcast sent",
		zap.Stringer("sender", sender),
		zap.Bool("media", media != nil),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
	)
	b.notify(ctx, sender, transport.Message{Text: b.texts.Get(messages.BroadcastDone, res.Delivered, res.Failed)})
	return res, nil
}

func (b *Bot) broadcastTo(ctx context.Context, p models.PrincipalID, caption string, media *models.MediaItem) error {
	if media != nil {
		if _, err := b.sink.SendMedia(ctx, p, models.Batch{*media}); err != nil {
			return err
		}
	}
	_, err := b.sink.Send(ctx, p, transport.Message{Text: caption})
	return err
}

// Principals lists every known principal. Admin only.
func (b *Bot) Principals(requester models.PrincipalID) ([]models.PrincipalID, error) {
	if !b.IsAdmin(requester) {
		return nil, ErrNotAdmin
	}
	return b.registry.Principals(), nil
}

func (b *Bot) notify(ctx context.Context, p models.PrincipalID, msg transport.Message) {
	if _, err := b.sink.Send(ctx, p, msg); err != nil {
		b.logger.Warn("send notice failed", zap.Stringer("principal", p), zap.Error(err))
	}
}
