// Package planclient opens streaming requests against the planning service.
package planclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/sse"
)

// GenericFailure is the message used when the service gives no reason.
const GenericFailure = "请求失败"

const maxErrorBody = 64 * 1024

// ErrCanceled marks a session that stopped because it was canceled. It is
// never a user-visible failure.
var ErrCanceled = errors.New("stream session canceled")

// TransportError is a terminal failure of the request itself.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("plan stream: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("plan stream: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client talks to the planning service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *observability.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTP = hc }
}

func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.Logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open issues the streaming request and returns a live session once the
// response headers have arrived. The session is canceled when ctx is.
func (c *Client) Open(ctx context.Context, task string, history []protocol.CompletedStep, offset int) (*Session, error) {
	if history == nil {
		history = []protocol.CompletedStep{}
	}
	body, err := json.Marshal(protocol.PlanRequest{Task: task, Completed: history})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+protocol.StreamPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	id := uuid.NewString()
	c.Logger.LogSessionOpen(id, task, len(history), offset)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		canceled := ctx.Err() != nil
		cancel()
		if canceled {
			return nil, ErrCanceled
		}
		return nil, &TransportError{Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil {
		defer cancel()
		msg := GenericFailure
		if resp.Body != nil {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			if text := strings.TrimSpace(string(data)); text != "" {
				msg = text
			}
		}
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, &TransportError{Status: resp.StatusCode, Message: msg}
	}

	return &Session{
		ID:      id,
		Task:    task,
		History: history,
		Offset:  offset,
		ctx:     ctx,
		cancel:  cancel,
		body:    resp.Body,
		frames:  sse.NewReader(resp.Body),
		log:     c.Logger,
	}, nil
}
