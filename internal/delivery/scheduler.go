// Package delivery sends resolved bundles to a chat and arms the timed
// deletion of what was sent.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/transport"
)

// WarningLead is how long before deletion the one-time warning goes out.
const WarningLead = time.Minute

// Destructor arms the deletion of delivered messages. Once armed, a
// deletion is not cancellable.
type Destructor interface {
	Arm(ctx context.Context, chat models.PrincipalID, ids []transport.MessageID, delay models.Lifetime) error
}

// Delivery is one emission of a bundle into one chat. Every delivery owns
// its message ids and its own deletion timer.
type Delivery struct {
	ID         string
	Token      string
	Chat       models.PrincipalID
	MessageIDs []transport.MessageID
}

var _ Destructor = (*Scheduler)(nil)

// Scheduler delivers bundles and, as the in-process Destructor, runs one
// goroutine per armed deletion. Pending deletions do not survive a restart.
type Scheduler struct {
	sink    transport.Sink
	texts   *messages.Localizer
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func NewScheduler(sink transport.Sink, texts *messages.Localizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		texts:  texts,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Deliver sends every batch of view to chat followed by a notice about the
// deletion delay. A batch that fails to send is logged and skipped. The
// returned ids include the notice.
func (s *Scheduler) Deliver(ctx context.Context, chat models.PrincipalID, view models.BundleView) Delivery {
	d := Delivery{ID: uuid.NewString(), Token: view.Token, Chat: chat}
	log := s.logger.With(zap.String("delivery", d.ID), zap.String("token", view.Token), zap.Stringer("chat", chat))

	for i, batch := range view.Batches {
		ids, err := s.sink.SendMedia(ctx, chat, batch)
		if err != nil {
			log.Warn("send batch failed", zap.Int("batch", i), zap.Error(err))
			continue
		}
		d.MessageIDs = append(d.MessageIDs, ids...)
	}

	text := s.texts.Get(messages.DeliveryKept)
	if !view.DeleteAfter.IsUnlimited() {
		text = s.texts.Get(messages.DeliveryNotice, s.texts.Lifetime(view.DeleteAfter))
	}
	if id, err := s.sink.Send(ctx, chat, transport.Message{Text: text}); err != nil {
		log.Warn("send delivery notice failed", zap.Error(err))
	} else {
		d.MessageIDs = append(d.MessageIDs, id)
	}

	s.metrics.Delivered()
	log.Info("bundle delivered", zap.Int("messages", len(d.MessageIDs)))
	return d
}

// Arm schedules deletion of ids after delay and returns immediately. An
// unlimited delay arms nothing.
func (s *Scheduler) Arm(_ context.Context, chat models.PrincipalID, ids []transport.MessageID, delay models.Lifetime) error {
	if delay.IsUnlimited() {
		return nil
	}
	ids = append([]transport.MessageID(nil), ids...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.destroy(chat, ids, delay.Duration())
	}()
	return nil
}

func (s *Scheduler) destroy(chat models.PrincipalID, ids []transport.MessageID, delay time.Duration) {
	if delay > WarningLead {
		if !s.sleep(delay - WarningLead) {
			return
		}
		s.notify(chat, messages.DeletionWarning)
		if !s.sleep(WarningLead) {
			return
		}
	} else if !s.sleep(delay) {
		return
	}

	deleteAll(s.ctx, s.sink, chat, ids, s.metrics, s.logger)
	s.notify(chat, messages.DeletionDone)
}

func (s *Scheduler) sleep(d time.Duration) bool {
	select {
	case <-s.clock.After(d):
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Scheduler) notify(chat models.PrincipalID, key string) {
	if _, err := s.sink.Send(s.ctx, chat, transport.Message{Text: s.texts.Get(key)}); err != nil {
		s.logger.Warn("send deletion notice failed", zap.Stringer("chat", chat), zap.String("notice", key), zap.Error(err))
	}
}

// Wait blocks until every armed deletion has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close abandons pending deletions and waits for their goroutines to exit.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// deleteAll attempts every id. Failures are expected when a message is
// already gone or permissions changed, so they are only logged.
func deleteAll(ctx context.Context, sink transport.Sink, chat models.PrincipalID, ids []transport.MessageID, m *metrics.Metrics, logger *zap.Logger) {
	for _, id := range ids {
		err := sink.Delete(ctx, chat, id)
		m.MessageDeleted(err)
		if err != nil {
			logger.Debug("delete message failed", zap.Stringer("chat", chat), zap.Int64("message", int64(id)), zap.Error(err))
		}
	}
}
