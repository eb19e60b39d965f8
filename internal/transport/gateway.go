package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vanish.share/internal/models"
)

var _ Sink = (*Gateway)(nil)

// Gateway speaks JSON over HTTP to a bot gateway that owns the actual chat
// connection.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewGateway(baseURL, token string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Chat models.PrincipalID `json:"chat"`
	Message
}

type sendResponse struct {
	MessageID MessageID `json:"message_id"`
}

type sendMediaRequest struct {
	Chat  models.PrincipalID `json:"chat"`
	Items models.Batch       `json:"items"`
}

type sendMediaResponse struct {
	MessageIDs []MessageID `json:"message_ids"`
}

type deleteRequest struct {
	Chat      models.PrincipalID `json:"chat"`
	MessageID MessageID          `json:"message_id"`
}

func (g *Gateway) Send(ctx context.Context, chat models.PrincipalID, msg Message) (MessageID, error) {
	var resp sendResponse
	if err := g.post(ctx, "/send", sendRequest{Chat: chat, Message: msg}, &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

func (g *Gateway) SendMedia(ctx context.Context, chat models.PrincipalID, batch models.Batch) ([]MessageID, error) {
	if len(batch) == 0 || len(batch) > models.MaxBatchSize {
		return nil, fmt.Errorf("media group of %d items", len(batch))
	}
	var resp sendMediaResponse
	if err := g.post(ctx, "/send-media", sendMediaRequest{Chat: chat, Items: batch}, &resp); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

func (g *Gateway) Delete(ctx context.Context, chat models.PrincipalID, id MessageID) error {
	err := g.post(ctx, "/delete", deleteRequest{Chat: chat, MessageID: id}, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

func (g *Gateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
