package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/protocol"
)

// Host commands and push events for the bridge backend.
const (
	hostCmdConnect    = "ws_connect"
	hostCmdSend       = "ws_send"
	hostCmdDisconnect = "ws_disconnect"

	hostEventMessage = "ws-message"
	hostEventClose   = "ws-close"
	hostEventError   = "ws-error"
)

// Host is a privileged process that owns the actual socket. Invoke is
// request/response; Subscribe registers a push handler and returns an
// unsubscribe func. Handlers may unsubscribe from within a callback.
type Host interface {
	Invoke(ctx context.Context, cmd string, payload any) (json.RawMessage, error)
	Subscribe(event string, handler func(payload json.RawMessage)) (func(), error)
}

//go:generate mockgen -source=bridge.go -destination=mock_host.go -package=transport

// Bridge relays frames through a Host. Each connection gets a fresh
// correlation id so host-side events can be matched to it.
type Bridge struct {
	host   Host
	url    string
	device string
	logger *slog.Logger

	mu   sync.Mutex
	conn *bridgeConn
}

type bridgeConn struct {
	id     string
	unsubs []func()
	once   sync.Once

	mu     sync.Mutex
	events chan Event
	done   bool
}

// deliver sends an event unless the stream has already terminated. The
// host may fire a message callback concurrently with close teardown, so
// every send on the stream goes through this guard.
func (c *bridgeConn) deliver(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return
	}

	c.events <- ev
}

// NewBridge creates a bridge transport over the given host. The device
// name identifies this client to the server at connect time.
func NewBridge(host Host, url, device string, logger *slog.Logger) *Bridge {
	return &Bridge{host: host, url: url, device: device, logger: logger}
}

// Connect asks the host to open the socket and returns the event
// stream. Push subscriptions are registered before the connect call so
// no early event is lost, and all of them are dropped when the stream
// terminates.
func (b *Bridge) Connect(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil, fmt.Errorf("transport already connected")
	}

	conn := &bridgeConn{
		id:     uuid.NewString(),
		events: make(chan Event, eventBuffer),
	}

	subs := []struct {
		event   string
		handler func(json.RawMessage)
	}{
		{hostEventMessage, func(payload json.RawMessage) { b.handleMessage(conn, payload) }},
		{hostEventClose, func(payload json.RawMessage) { b.handleClose(conn, payload) }},
		{hostEventError, func(payload json.RawMessage) { b.handleError(conn, payload) }},
	}

	for _, sub := range subs {
		unsub, err := b.host.Subscribe(sub.event, sub.handler)
		if err != nil {
			for _, u := range conn.unsubs {
				u()
			}

			return nil, fmt.Errorf("subscribing to %s: %w", sub.event, err)
		}

		conn.unsubs = append(conn.unsubs, unsub)
	}

	_, err := b.host.Invoke(ctx, hostCmdConnect, map[string]string{
		"conn_id": conn.id,
		"url":     b.url,
		"device":  b.device,
	})
	if err != nil {
		for _, u := range conn.unsubs {
			u()
		}

		return nil, fmt.Errorf("host connect: %w", err)
	}

	b.conn = conn
	conn.deliver(Opened{})

	return conn.events, nil
}

func (b *Bridge) handleMessage(conn *bridgeConn, payload json.RawMessage) {
	frame, err := protocol.Decode(payload)
	if err != nil {
		if stderrors.Is(err, errors.ErrUnknownFrame) {
			b.logger.Debug("ignoring unknown frame", slog.String("error", err.Error()))
		} else {
			b.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		}

		return
	}

	conn.deliver(Frame{Frame: frame})
}

func (b *Bridge) handleClose(conn *bridgeConn, payload json.RawMessage) {
	var closed struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	}

	if err := json.Unmarshal(payload, &closed); err != nil {
		b.logger.Warn("malformed close event", slog.String("error", err.Error()))
	}

	b.finish(conn, Closed{Code: closed.Code, Reason: closed.Reason})
}

func (b *Bridge) handleError(conn *bridgeConn, payload json.RawMessage) {
	var hostErr struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(payload, &hostErr); err != nil {
		b.logger.Warn("malformed error event", slog.String("error", err.Error()))
	}

	b.finish(conn, Failed{Err: fmt.Errorf("host socket error: %s", hostErr.Message)})
}

// finish terminates the stream exactly once: detach, drop the host
// subscriptions, emit the terminal event, close the channel.
func (b *Bridge) finish(conn *bridgeConn, terminal Event) {
	conn.once.Do(func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()

		for _, u := range conn.unsubs {
			u()
		}

		conn.mu.Lock()
		conn.done = true
		conn.events <- terminal
		close(conn.events)
		conn.mu.Unlock()
	})
}

// Send relays an outbound frame through the host.
func (b *Bridge) Send(ctx context.Context, frame protocol.Outbound) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return errors.ErrNotConnected
	}

	_, err := b.host.Invoke(ctx, hostCmdSend, map[string]any{
		"conn_id": conn.id,
		"frame":   frame,
	})
	if err != nil {
		return fmt.Errorf("host send: %w", err)
	}

	return nil
}

// Close asks the host to drop the socket and tears down the stream.
// The disconnect call is best effort; subscriptions are removed either
// way. Safe to call when not connected.
func (b *Bridge) Close(reason string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	_, err := b.host.Invoke(context.Background(), hostCmdDisconnect, map[string]string{
		"conn_id": conn.id,
	})

	b.finish(conn, Closed{Code: 1000, Reason: reason})

	if err != nil {
		return fmt.Errorf("host disconnect: %w", err)
	}

	return nil
}
