package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ChangeHandler receives row-change notifications. Delivery is at-least-once;
// handlers must tolerate duplicates.
type ChangeHandler func(change ChangeEvent)

// ChangeEvent is one row-change notification from the realtime channel.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Event  string          `json:"event"` // INSERT, UPDATE, DELETE
	Record json.RawMessage `json:"record"`
}

type realtimeFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     int64           `json:"ref"`
}

// RealtimeClient multiplexes (table, event, filter) subscriptions over one
// websocket connection to the backend's change-notification channel.
type RealtimeClient struct {
	wsURL  string
	apiKey string

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]ChangeHandler // topic -> handler
	ref    int64
	closed bool
}

// NewRealtimeClient builds a realtime client for the backend base URL.
func NewRealtimeClient(baseURL, apiKey string) *RealtimeClient {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/realtime/v1/websocket"
	return &RealtimeClient{
		wsURL:  wsURL,
		apiKey: apiKey,
		subs:   make(map[string]ChangeHandler),
	}
}

// Subscribe registers a handler for changes on (table, event, filter) and
// returns an unsubscribe function that releases the channel.
func (c *RealtimeClient) Subscribe(ctx context.Context, table, event, filter string, handler ChangeHandler) (func(), error) {
	topic := fmt.Sprintf("realtime:%s:%s:%s", table, event, filter)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("realtime client closed")
	}
	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return nil, err
		}
	}

	c.ref++
	join := realtimeFrame{Topic: topic, Event: "phx_join", Ref: c.ref}
	if err := c.conn.WriteJSON(join); err != nil {
		return nil, newTransportError("realtime subscribe", err)
	}
	c.subs[topic] = handler

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == nil {
			delete(c.subs, topic)
			return
		}
		c.ref++
		leave := realtimeFrame{Topic: topic, Event: "phx_leave", Ref: c.ref}
		if err := c.conn.WriteJSON(leave); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("realtime unsubscribe write failed")
		}
		delete(c.subs, topic)
	}
	return unsubscribe, nil
}

// Close tears down the connection and drops all subscriptions.
func (c *RealtimeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subs = make(map[string]ChangeHandler)
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// dial connects and starts the read loop. Caller holds c.mu.
func (c *RealtimeClient) dial(ctx context.Context) error {
	endpoint := c.wsURL + "?apikey=" + url.QueryEscape(c.apiKey)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return newTransportError("realtime dial", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	go c.heartbeat(ctx, conn)
	return nil
}

func (c *RealtimeClient) readLoop(conn *websocket.Conn) {
	for {
		var frame realtimeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if !wasClosed {
				log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}

		if frame.Event == "phx_reply" || frame.Event == "heartbeat" {
			continue
		}

		c.mu.Lock()
		handler := c.subs[frame.Topic]
		c.mu.Unlock()
		if handler == nil {
			continue
		}

		var change ChangeEvent
		if err := json.Unmarshal(frame.Payload, &change); err != nil {
			log.Warn().Err(err).Str("topic", frame.Topic).Msg("realtime payload decode failed")
			continue
		}
		handler(change)
	}
}

func (c *RealtimeClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.ref++
			frame := realtimeFrame{Topic: "phoenix", Event: "heartbeat", Ref: c.ref}
			err := conn.WriteJSON(frame)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
