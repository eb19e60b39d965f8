// Package transport defines the chat transport the service drives and two
// implementations: an in-memory sink and an HTTP gateway client.
package transport

import (
	"context"
	"errors"

	"vanish.share/internal/models"
)

// MessageID identifies a message inside one chat.
type MessageID int64

// ErrUnavailable is returned when the transport cannot be reached.
var ErrUnavailable = errors.New("transport unavailable")

// Choice is one selectable button. Data is echoed back through the
// selection hook.
type Choice struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Message is a text notice, optionally carrying a choice keyboard or a
// request for a free-text reply.
type Message struct {
	Text       string     `json:"text"`
	Choices    [][]Choice `json:"choices,omitempty"`
	ForceReply bool       `json:"force_reply,omitempty"`
}

// Sink is the outbound side of the chat transport. Chats are addressed by
// the principal that owns them.
type Sink interface {
	Send(ctx context.Context, chat models.PrincipalID, msg Message) (MessageID, error)
	// SendMedia sends up to models.MaxBatchSize items as one group.
	SendMedia(ctx context.Context, chat models.PrincipalID, batch models.Batch) ([]MessageID, error)
	// Delete removes a message. Deleting a message that is already gone is
	// not an error.
	Delete(ctx context.Context, chat models.PrincipalID, id MessageID) error
}
