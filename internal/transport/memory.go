package transport

import (
	"context"
	"fmt"
	"sync"

	"vanish.share/internal/models"
)

// Sent is one message recorded by the memory sink. Exactly one of Message
// and Media is set.
type Sent struct {
	Chat    models.PrincipalID
	ID      MessageID
	Message *Message
	Media   *models.MediaItem
}

var _ Sink = (*Memory)(nil)

// Memory is a Sink that records traffic instead of sending it. It backs the
// server when no gateway is configured and doubles as the test fake.
type Memory struct {
	mu       sync.Mutex
	nextID   MessageID
	sent     []Sent
	live     map[MessageID]models.PrincipalID
	deleted  []MessageID
	failChat map[models.PrincipalID]error
	failDel  map[MessageID]error
	notify   chan Sent
	history  int
}

type MemoryOption func(*Memory)

// WithHistory keeps only the newest n sent and deleted messages. Older
// messages are forgotten and deleting them becomes a no-op. Zero keeps
// everything.
func WithHistory(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.history = n
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		live:     make(map[MessageID]models.PrincipalID),
		failChat: make(map[models.PrincipalID]error),
		failDel:  make(map[MessageID]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Notify returns a channel that receives every sent message. It must be
// called before traffic starts and drained by the caller.
func (m *Memory) Notify(buffer int) <-chan Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = make(chan Sent, buffer)
	return m.notify
}

// FailChat makes every send to chat fail with err. A nil err clears it.
func (m *Memory) FailChat(chat models.PrincipalID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failChat, chat)
		return
	}
	m.failChat[chat] = err
}

// FailDelete makes deleting id fail with err.
func (m *Memory) FailDelete(id MessageID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDel[id] = err
}

func (m *Memory) Send(ctx context.Context, chat models.PrincipalID, msg Message) (MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failChat[chat]; err != nil {
		return 0, err
	}
	copied := msg
	return m.record(Sent{Chat: chat, Message: &copied}), nil
}

func (m *Memory) SendMedia(ctx context.Context, chat models.PrincipalID, batch models.Batch) ([]MessageID, error) {
	if len(batch) == 0 || len(batch) > models.MaxBatchSize {
		return nil, fmt.Errorf("media group of %d items", len(batch))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failChat[chat]; err != nil {
		return nil, err
	}
	ids := make([]MessageID, 0, len(batch))
	for i := range batch {
		item := batch[i]
		ids = append(ids, m.record(Sent{Chat: chat, Media: &item}))
	}
	return ids, nil
}

func (m *Memory) Delete(ctx context.Context, chat models.PrincipalID, id MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failDel[id]; err != nil {
		return err
	}
	if owner, ok := m.live[id]; ok && owner == chat {
		delete(m.live, id)
		m.deleted = append(m.deleted, id)
		if m.history > 0 && len(m.deleted) > m.history {
			m.deleted = append(m.deleted[:0], m.deleted[len(m.deleted)-m.history:]...)
		}
	}
	return nil
}

// Sent returns everything sent to chat, in order.
func (m *Memory) Sent(chat models.PrincipalID) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Sent
	for _, s := range m.sent {
		if s.Chat == chat {
			out = append(out, s)
		}
	}
	return out
}

// Texts returns the text of every notice sent to chat.
func (m *Memory) Texts(chat models.PrincipalID) []string {
	var out []string
	for _, s := range m.Sent(chat) {
		if s.Message != nil {
			out = append(out, s.Message.Text)
		}
	}
	return out
}

// Deleted returns the ids removed so far, in deletion order.
func (m *Memory) Deleted() []MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MessageID(nil), m.deleted...)
}

// Live reports whether id has been sent and not deleted.
func (m *Memory) Live(id MessageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

func (m *Memory) record(s Sent) MessageID {
	m.nextID++
	s.ID = m.nextID
	m.sent = append(m.sent, s)
	m.live[s.ID] = s.Chat
	if m.history > 0 && len(m.sent) > m.history {
		drop := len(m.sent) - m.history
		for _, old := range m.sent[:drop] {
			delete(m.live, old.ID)
		}
		m.sent = append(m.sent[:0], m.sent[drop:]...)
	}
	if m.notify != nil {
		select {
		case m.notify <- s:
		default:
		}
	}
	return s.ID
}
