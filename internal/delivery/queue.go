package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/transport"
)

const (
	// WarningTask posts the one-minute warning. It is never retried so a
	// chat never sees the warning twice.
	WarningTask = "delivery:warning"
	// DestroyTask deletes the delivered messages and posts the completion
	// notice.
	DestroyTask = "delivery:destroy"
)

// DestroyPayload is shared by both tasks of one delivery.
type DestroyPayload struct {
	DeliveryID string                `json:"delivery_id"`
	Chat       models.PrincipalID    `json:"chat"`
	MessageIDs []transport.MessageID `json:"message_ids"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Destructor = (*QueueDestructor)(nil)

// QueueDestructor arms deletions as delayed asynq tasks so they survive a
// restart of the server.
type QueueDestructor struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

func NewQueueDestructor(client Enqueuer, queue string) *QueueDestructor {
	if queue == "" {
		queue = "default"
	}
	return &QueueDestructor{client: client, queue: queue, maxRetry: 3}
}

func (q *QueueDestructor) Arm(ctx context.Context, chat models.PrincipalID, ids []transport.MessageID, delay models.Lifetime) error {
	if delay.IsUnlimited() {
		return nil
	}
	payload := DestroyPayload{DeliveryID: uuid.NewString(), Chat: chat, MessageIDs: ids}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	d := delay.Duration()
	if d > WarningLead {
		task := asynq.NewTask(WarningTask, data)
		if _, err := q.client.EnqueueContext(ctx, task,
			asynq.Queue(q.queue),
			asynq.ProcessIn(d-WarningLead),
			asynq.MaxRetry(0),
			asynq.TaskID(payload.DeliveryID+":warning"),
		); err != nil {
			return fmt.Errorf("enqueue warning task: %w", err)
		}
	}

	task := asynq.NewTask(DestroyTask, data)
	if _, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.ProcessIn(d),
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID(payload.DeliveryID+":destroy"),
	); err != nil {
		return fmt.Errorf("enqueue destroy task: %w", err)
	}
	return nil
}

// Processor runs the tasks enqueued by QueueDestructor.
type Processor struct {
	sink    transport.Sink
	texts   *messages.Localizer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewProcessor(sink transport.Sink, texts *messages.Localizer, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{sink: sink, texts: texts, metrics: m, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(WarningTask, p.HandleWarning)
	mux.HandleFunc(DestroyTask, p.HandleDestroy)
	return mux
}

func (p *Processor) HandleWarning(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	if _, err := p.sink.Send(ctx, payload.Chat, transport.Message{Text: p.texts.Get(messages.DeletionWarning)}); err != nil {
		p.logger.Warn("send deletion warning failed", zap.String("delivery", payload.DeliveryID), zap.Error(err))
	}
	return nil
}

func (p *Processor) HandleDestroy(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	deleteAll(ctx, p.sink, payload.Chat, payload.MessageIDs, p.metrics, p.logger)
	if _, err := p.sink.Send(ctx, payload.Chat, transport.Message{Text: p.texts.Get(messages.DeletionDone)}); err != nil {
		p.logger.Warn("send deletion notice failed", zap.String("delivery", payload.DeliveryID), zap.Error(err))
	}
	return nil
}

func decodePayload(task *asynq.Task) (DestroyPayload, error) {
	var payload DestroyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	return payload, nil
}
