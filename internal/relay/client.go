package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Conn is the subset of a websocket connection the client needs. It exists
// so tests can drive a client without a network.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Client bridges one websocket connection to the ephemeral store, scoped to
// a single canvas.
type Client struct {
	id    string
	scope string // required path prefix, "canvas/{canvasID}/"
	conn  Conn
	store remote.EphemeralStore
	log   zerolog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func() // pattern -> cancel
}

// NewClient wraps a connection for a canvas.
func NewClient(id, canvasID string, conn Conn, store remote.EphemeralStore, log zerolog.Logger) *Client {
	return &Client{
		id:    id,
		scope: fmt.Sprintf("canvas/%s/", canvasID),
		conn:  conn,
		store: store,
		log:   log.With().Str("client_id", id).Str("canvas_id", canvasID).Logger(),
		subs:  make(map[string]func()),
	}
}

// ID returns the client's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Run reads messages until the connection closes or ctx is cancelled, then
// tears down every subscription the client holds.
func (c *Client) Run(ctx context.Context) {
	defer c.teardown()

	for {
		var raw struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}

		if err := c.conn.ReadJSON(&raw); err != nil {
			c.log.Debug().Err(err).Msg("connection closed")

			return
		}

		if ctx.Err() != nil {
			return
		}

		if err := c.dispatch(ctx, raw.Type, raw.Payload); err != nil {
			c.log.Warn().Err(err).Str("type", string(raw.Type)).Msg("message failed")
		}
	}
}

func (c *Client) dispatch(ctx context.Context, typ MessageType, payload json.RawMessage) error {
	switch typ {
	case MessageTypeSubscribe:
		return c.handleSubscribe(ctx, payload)
	case MessageTypeUnsubscribe:
		return c.handleUnsubscribe(payload)
	case MessageTypePublish:
		return c.handlePublish(ctx, payload)
	case MessageTypeLease:
		return c.handleLease(ctx, payload)
	case MessageTypeDelete:
		return c.handleDelete(ctx, payload)
	case MessageTypeList:
		return c.handleList(ctx, payload)
	default:
		c.sendError(ErrorCodeInvalidMessage, fmt.Sprintf("unknown message type %q", typ))

		return fmt.Errorf("unknown message type %q", typ)
	}
}

// inScope reports whether a path or pattern stays inside the client's
// canvas. Clients never see or touch another canvas's traffic.
func (c *Client) inScope(path string) bool {
	return strings.HasPrefix(path, c.scope) && len(path) > len(c.scope)
}

func (c *Client) handleSubscribe(ctx context.Context, payload json.RawMessage) error {
	var p SubscribePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed subscribe payload")

		return fmt.Errorf("decode subscribe: %w", err)
	}

	if !c.inScope(p.Pattern) {
		c.sendError(ErrorCodeOutOfScope, "pattern outside canvas")

		return fmt.Errorf("pattern %q out of scope", p.Pattern)
	}

	c.mu.Lock()
	_, dup := c.subs[p.Pattern]
	c.mu.Unlock()

	if dup {
		return nil // already attached
	}

	cancel, err := c.store.Subscribe(ctx, p.Pattern, func(path string, data []byte) {
		c.send(Message{Type: MessageTypeEvent, Payload: EventPayload{
			Path: path,
			Data: json.RawMessage(data),
		}})
	})
	if err != nil {
		c.sendError(ErrorCodeInternalError, "subscribe failed")

		return fmt.Errorf("subscribe %s: %w", p.Pattern, err)
	}

	c.mu.Lock()
	c.subs[p.Pattern] = cancel
	c.mu.Unlock()

	return nil
}

func (c *Client) handleUnsubscribe(payload json.RawMessage) error {
	var p SubscribePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed unsubscribe payload")

		return fmt.Errorf("decode unsubscribe: %w", err)
	}

	c.mu.Lock()
	cancel, exists := c.subs[p.Pattern]
	delete(c.subs, p.Pattern)
	c.mu.Unlock()

	if exists {
		cancel()
	}

	return nil
}

func (c *Client) handlePublish(ctx context.Context, payload json.RawMessage) error {
	var p PublishPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed publish payload")

		return fmt.Errorf("decode publish: %w", err)
	}

	if !c.inScope(p.Path) {
		c.sendError(ErrorCodeOutOfScope, "path outside canvas")

		return fmt.Errorf("path %q out of scope", p.Path)
	}

	if err := c.store.Publish(ctx, p.Path, p.Data); err != nil {
		c.sendError(ErrorCodeInternalError, "publish failed")

		return fmt.Errorf("publish %s: %w", p.Path, err)
	}

	return nil
}

func (c *Client) handleLease(ctx context.Context, payload json.RawMessage) error {
	var p LeasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed lease payload")

		return fmt.Errorf("decode lease: %w", err)
	}

	if !c.inScope(p.Path) {
		c.sendError(ErrorCodeOutOfScope, "path outside canvas")

		return fmt.Errorf("path %q out of scope", p.Path)
	}

	if p.TTLMillis <= 0 {
		c.sendError(ErrorCodeInvalidMessage, "lease ttl must be positive")

		return fmt.Errorf("lease %s: non-positive ttl %d", p.Path, p.TTLMillis)
	}

	ttl := time.Duration(p.TTLMillis) * time.Millisecond

	if err := c.store.SetLease(ctx, p.Path, p.Data, ttl); err != nil {
		c.sendError(ErrorCodeInternalError, "lease failed")

		return fmt.Errorf("lease %s: %w", p.Path, err)
	}

	return nil
}

func (c *Client) handleDelete(ctx context.Context, payload json.RawMessage) error {
	var p DeletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed delete payload")

		return fmt.Errorf("decode delete: %w", err)
	}

	if !c.inScope(p.Path) {
		c.sendError(ErrorCodeOutOfScope, "path outside canvas")

		return fmt.Errorf("path %q out of scope", p.Path)
	}

	if err := c.store.Delete(ctx, p.Path); err != nil {
		c.sendError(ErrorCodeInternalError, "delete failed")

		return fmt.Errorf("delete %s: %w", p.Path, err)
	}

	return nil
}

func (c *Client) handleList(ctx context.Context, payload json.RawMessage) error {
	var p ListPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(ErrorCodeInvalidMessage, "malformed list payload")

		return fmt.Errorf("decode list: %w", err)
	}

	if !c.inScope(p.Prefix) {
		c.sendError(ErrorCodeOutOfScope, "prefix outside canvas")

		return fmt.Errorf("prefix %q out of scope", p.Prefix)
	}

	records, err := c.store.List(ctx, p.Prefix)
	if err != nil {
		c.sendError(ErrorCodeInternalError, "list failed")

		return fmt.Errorf("list %s: %w", p.Prefix, err)
	}

	out := make(map[string]json.RawMessage, len(records))
	for path, data := range records {
		out[path] = json.RawMessage(data)
	}

	c.send(Message{Type: MessageTypeState, Payload: StatePayload{
		Prefix:  p.Prefix,
		Records: out,
	}})

	return nil
}

// send serializes writes to the connection; websocket connections allow only
// one concurrent writer.
func (c *Client) send(msg Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
}

func (c *Client) sendError(code, message string) {
	c.send(Message{Type: MessageTypeError, Payload: ErrorPayload{
		Code:    code,
		Message: message,
	}})
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancels := make([]func(), 0, len(c.subs))

	for _, cancel := range c.subs {
		cancels = append(cancels, cancel)
	}

	c.subs = make(map[string]func())
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	_ = c.conn.Close()
}
