package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/pkg/logger"
)

// Config wires one observer (doctor console, reception desk, display) to the
// queue service. The connection handle is owned by the Client and passed in
// by the caller; there is no ambient global socket.
type Config struct {
	// BaseURL is the REST root, e.g. http://clinic:8080/api/v1.
	BaseURL string
	// WSURL is the push endpoint, e.g. ws://clinic:8080/api/v1/queue/ws.
	WSURL string
	// Rooms to join on every (re)connect.
	Rooms []string

	HTTPClient *http.Client
	Logger     *logger.Logger

	// Reconnect policy: exponential backoff, capped interval, bounded
	// attempt count per outage.
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts uint64
}

// Client maintains a live local view of the queue. The push channel is a
// low-latency hint layer: every (re)connect fetches a full REST snapshot
// before any pushed event is trusted, because delivery while disconnected is
// not replayed.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.RWMutex
	entries map[uuid.UUID]*model.QueueEntry
	stats   *model.QueueStats

	onEvent func(*model.QueueEvent)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger(nil)
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Client{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		entries: make(map[uuid.UUID]*model.QueueEntry),
	}
}

// OnEvent registers a callback invoked for every applied event. Must be set
// before Run.
func (c *Client) OnEvent(fn func(*model.QueueEvent)) {
	c.onEvent = fn
}

// Run connects, keeps the local view synchronized and reconnects with
// exponential backoff until ctx is cancelled or the attempt budget for an
// outage is exhausted. When Run returns, the caller still holds a usable
// pull-only client: Refresh keeps working against the REST surface.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = c.cfg.MaxReconnectInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxReconnectAttempts), ctx)

	for {
		err := backoff.Retry(func() error {
			return c.session(ctx)
		}, policy)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("push channel unavailable, falling back to pull-only: %w", err)
		}
		// A session ended normally (server close); start a fresh backoff
		// cycle and reconnect.
		policy = backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxReconnectAttempts), ctx)
		bo.Reset()
	}
}

// session runs one connect-subscribe-snapshot-listen cycle. Subscribing
// before the snapshot means events raced with the snapshot are applied on
// top of it, never lost in between.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push endpoint: %w", err)
	}
	defer conn.Close()

	for _, room := range c.cfg.Rooms {
		msg := map[string]string{"action": "subscribe", "room": room}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("failed to subscribe to room %s: %w", room, err)
		}
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}

	c.cfg.Logger.Info("subscribed to queue events", "rooms", c.cfg.Rooms)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("push connection lost: %w", err)
		}

		var evt model.QueueEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			c.cfg.Logger.Warn("dropping undecodable event", "error", err.Error())
			continue
		}
		c.apply(&evt)
	}
}

// Refresh replaces the local view with an authoritative REST snapshot.
func (c *Client) Refresh(ctx context.Context) error {
	var entries []*model.QueueEntry
	if err := c.get(ctx, "/queue", &entries); err != nil {
		return fmt.Errorf("failed to fetch queue snapshot: %w", err)
	}

	var stats model.QueueStats
	if err := c.get(ctx, "/queue/stats", &stats); err != nil {
		return fmt.Errorf("failed to fetch stats snapshot: %w", err)
	}

	c.mu.Lock()
	c.entries = make(map[uuid.UUID]*model.QueueEntry, len(entries))
	for _, entry := range entries {
		c.entries[entry.ID] = entry
	}
	c.stats = &stats
	c.mu.Unlock()
	return nil
}

// apply folds one pushed event into the local view. Events are hints over
// possibly-stale state, never authoritative diffs.
func (c *Client) apply(evt *model.QueueEvent) {
	c.mu.Lock()
	switch {
	case evt.Entry != nil:
		c.entries[evt.Entry.ID] = evt.Entry
	case evt.Stats != nil:
		c.stats = evt.Stats
	}
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(evt)
	}
}

// Entries returns the current local view.
func (c *Client) Entries() []*model.QueueEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.QueueEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		copied := *entry
		out = append(out, &copied)
	}
	return out
}

// Stats returns the last known aggregates, or nil before the first snapshot.
func (c *Client) Stats() *model.QueueStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stats == nil {
		return nil
	}
	copied := *c.stats
	return &copied
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("request failed: %s", env.Message)
	}
	if env.Data == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
