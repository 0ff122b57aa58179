// Package ws adapts observer WebSocket connections to the broker's
// connection contract and speaks the observer protocol: a hello naming the
// channel, ping/pong liveness, and get_alerts replay requests.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"proctor/internal/broker"
	"proctor/internal/events"
	"proctor/internal/pipeline"

	"github.com/coder/websocket"
)

// helloTimeout bounds how long a fresh connection may wait before naming its
// channel.
const helloTimeout = 10 * time.Second

// hello is the first message an observer sends after connecting.
type hello struct {
	Channel string `json:"channel"`
}

// Conn wraps a websocket connection as a broker.Conn.
type Conn struct {
	conn *websocket.Conn
}

// Send writes payload as a text message. The caller bounds ctx.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Close drops the connection without a close handshake. Used when the peer
// is already presumed dead.
func (c *Conn) Close() error {
	return c.conn.CloseNow()
}

// Unsubscriber removes a connection from a channel. Satisfied by
// broker.Broker.
type Unsubscriber interface {
	Unsubscribe(channelID string, conn broker.Conn)
}

// Handler serves the observer WebSocket endpoint.
type Handler struct {
	pipeline *pipeline.Pipeline
	broker   Unsubscriber
}

// NewHandler creates a WebSocket handler backed by the given pipeline and
// broker.
func NewHandler(p *pipeline.Pipeline, b Unsubscriber) *Handler {
	return &Handler{pipeline: p, broker: b}
}

// ServeHTTP upgrades the request, reads the channel hello, subscribes the
// connection, and then serves the observer protocol until the peer drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}

	conn := &Conn{conn: sock}
	ctx := r.Context()

	channelID, err := h.readHello(ctx, sock, r)
	if err != nil {
		slog.Warn("Observer sent no channel, closing", "error", err)
		_ = sock.Close(websocket.StatusPolicyViolation, "channel required")
		return
	}

	slog.Info("Observer connected", "channel", channelID)

	if payload, err := json.Marshal(events.Envelope{
		Type:    events.TypeConnectionSuccess,
		Message: "subscribed to " + channelID,
		Channel: channelID,
	}); err == nil {
		_ = conn.Send(ctx, payload)
	}

	// Subscribe, then replay recent alerts so a reconnecting observer
	// catches up.
	h.pipeline.OnSubscribe(ctx, channelID, conn)

	defer func() {
		h.broker.Unsubscribe(channelID, conn)
		_ = sock.CloseNow()
		slog.Info("Observer disconnected", "channel", channelID)
	}()

	h.readLoop(ctx, channelID, conn)
}

// readHello obtains the channel ID from the query string or the first
// message, matching both old and new observer clients.
func (h *Handler) readHello(ctx context.Context, sock *websocket.Conn, r *http.Request) (string, error) {
	if ch := r.URL.Query().Get("channel"); ch != "" {
		return ch, nil
	}

	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	_, data, err := sock.Read(helloCtx)
	if err != nil {
		return "", err
	}

	var msg hello
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", err
	}
	if msg.Channel == "" {
		return "", errNoChannel
	}
	return msg.Channel, nil
}

// readLoop handles inbound observer messages. Malformed messages are logged
// and ignored; they never terminate the connection.
func (h *Handler) readLoop(ctx context.Context, channelID string, conn *Conn) {
	for {
		_, data, err := conn.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg events.Envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed observer message",
				"channel", channelID,
				"error", err,
			)
			continue
		}

		switch msg.Type {
		case events.TypePong:
			// Liveness acknowledgment, nothing further to do.
		case events.TypePing:
			if payload, err := json.Marshal(events.Envelope{Type: events.TypePong}); err == nil {
				sendCtx, cancel := context.WithTimeout(ctx, broker.SendTimeout)
				_ = conn.Send(sendCtx, payload)
				cancel()
			}
		case events.TypeGetAlerts:
			h.pipeline.Replay(ctx, channelID, conn, pipeline.ReplayOnRequest, 0)
		default:
			slog.Debug("Ignoring unknown observer message",
				"channel", channelID,
				"type", msg.Type,
			)
		}
	}
}

var errNoChannel = errors.New("hello message missing channel")
