// Package realtime runs the live session over a transport: connection
// lifecycle with backoff, the delayed auth handshake, heartbeats,
// presence roster polling, and dispatch of inbound frames into the
// reducer.
//
// Architecture: Run owns a single event loop goroutine per connection.
// The transport's event channel is the only inbound path; timers for
// auth, ping and roster polls are select cases in the same loop, so no
// handler ever races another.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mvoronin/pulsechat/internal/protocol"
	"github.com/mvoronin/pulsechat/internal/reducer"
	"github.com/mvoronin/pulsechat/internal/transport"
)

const (
	// authDelay is the pause between the socket opening and the
	// authenticate frame. The server needs a beat to register the
	// connection before it will accept auth.
	authDelay = time.Second

	// pingInterval is the heartbeat cadence on an authenticated
	// connection.
	pingInterval = 30 * time.Second

	// rosterInterval is how often the chat-membership roster's online
	// status is re-polled.
	rosterInterval = 5 * time.Minute
)

// ConnectionState is the observable lifecycle of the session's
// connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config wires a Client's collaborators.
type Config struct {
	Transport transport.Transport
	Reducer   *reducer.Reducer
	Logger    *slog.Logger

	// Token supplies the current access token; empty means the session
	// runs unauthenticated and the handshake is skipped.
	Token func() string

	// Roster supplies the user ids whose presence should be re-polled
	// periodically. Nil or empty skips the poll.
	Roster func() []int64

	// OnAuthenticated fires when the server confirms the handshake.
	OnAuthenticated func(userID int64)
}

// Client drives one logical realtime session over a transport.
type Client struct {
	transport       transport.Transport
	reducer         *reducer.Reducer
	logger          *slog.Logger
	token           func() string
	roster          func() []int64
	onAuthenticated func(userID int64)

	recon   *reconnector
	retryCh chan struct{}

	mu     sync.Mutex
	state  ConnectionState
	authed bool
	userID int64
}

// New creates a client. Run starts it.
func New(cfg Config) *Client {
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}

	roster := cfg.Roster
	if roster == nil {
		roster = func() []int64 { return nil }
	}

	onAuth := cfg.OnAuthenticated
	if onAuth == nil {
		onAuth = func(int64) {}
	}

	return &Client{
		transport:       cfg.Transport,
		reducer:         cfg.Reducer,
		logger:          cfg.Logger,
		token:           token,
		roster:          roster,
		onAuthenticated: onAuth,
		recon:           newReconnector(),
		retryCh:         make(chan struct{}, 1),
		state:           StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Authenticated reports whether the server confirmed the handshake on
// the current connection.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.authed
}

// UserID returns the id confirmed by the last authenticated frame.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userID
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and serves until the context is cancelled, Close is
// called, or the retry budget runs out. Each drop schedules exactly one
// retry; a successful open resets the budget.
func (c *Client) Run(ctx context.Context) error {
	defer c.recon.Cancel()

	for {
		err := c.serveConn(ctx)

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}

		if err == nil {
			// Deliberate close.
			c.setState(StateClosed)
			return nil
		}

		c.logger.Warn("connection lost", slog.String("error", err.Error()))

		if schedErr := c.recon.Schedule(c.wakeRetry); schedErr != nil {
			c.setState(StateClosed)
			return fmt.Errorf("reconnecting: %w", schedErr)
		}

		c.setState(StateDisconnected)

		select {
		case <-c.retryCh:
		case <-ctx.Done():
			c.setState(StateClosed)
			return ctx.Err()
		}
	}
}

func (c *Client) wakeRetry() {
	select {
	case c.retryCh <- struct{}{}:
	default:
	}
}

// serveConn runs one connection to completion. Returns nil only for a
// deliberate close; any other termination is an error the caller may
// retry.
func (c *Client) serveConn(ctx context.Context) error {
	if c.recon.Cancelled() {
		return nil
	}

	c.setState(StateConnecting)

	events, err := c.transport.Connect(ctx)
	if err != nil {
		if c.recon.Cancelled() {
			return nil
		}

		return fmt.Errorf("connecting: %w", err)
	}

	authTimer := time.NewTimer(authDelay)
	defer authTimer.Stop()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	rosterTicker := time.NewTicker(rosterInterval)
	defer rosterTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosing)
			_ = c.transport.Close("shutting down")

			return ctx.Err()

		case <-authTimer.C:
			c.sendAuth(ctx)

		case <-pingTicker.C:
			if c.Authenticated() {
				c.send(ctx, protocol.Ping())
			}

		case <-rosterTicker.C:
			c.pollRoster(ctx)

		case ev, ok := <-events:
			if !ok {
				// Stream ended without a terminal event; treat as a drop.
				c.dropConn()

				if c.recon.Cancelled() {
					return nil
				}

				return fmt.Errorf("event stream ended")
			}

			switch ev := ev.(type) {
			case transport.Opened:
				c.setState(StateConnected)
				c.recon.Reset()
				c.logger.Info("connection established")

			case transport.Frame:
				c.handleFrame(ctx, ev.Frame)

			case transport.Closed:
				c.dropConn()

				if c.recon.Cancelled() {
					return nil
				}

				return fmt.Errorf("connection closed: code %d, reason %q", ev.Code, ev.Reason)

			case transport.Failed:
				c.dropConn()

				if c.recon.Cancelled() {
					return nil
				}

				return fmt.Errorf("connection failed: %w", ev.Err)
			}
		}
	}
}

func (c *Client) dropConn() {
	c.mu.Lock()
	c.authed = false
	c.mu.Unlock()
}

// sendAuth performs the delayed handshake. Without a token the session
// stays usable for whatever the server allows unauthenticated.
func (c *Client) sendAuth(ctx context.Context) {
	token := c.token()
	if token == "" {
		c.logger.Debug("no access token, skipping auth handshake")
		return
	}

	c.send(ctx, protocol.Authenticate(token))
}

func (c *Client) pollRoster(ctx context.Context) {
	if !c.Authenticated() {
		return
	}

	ids := c.roster()
	if len(ids) == 0 {
		return
	}

	c.send(ctx, protocol.GetOnlineStatus(ids))
}

func (c *Client) handleFrame(ctx context.Context, frame protocol.ServerFrame) {
	switch f := frame.(type) {
	case protocol.Pong:
		// Heartbeat acknowledged.

	case protocol.Authenticated:
		c.mu.Lock()
		c.authed = true
		c.userID = f.UserID
		c.mu.Unlock()

		c.logger.Info("session authenticated", slog.Int64("user_id", f.UserID))

		// Seed presence with the full online list.
		c.send(ctx, protocol.GetOnlineList())
		c.onAuthenticated(f.UserID)

	case protocol.ServerError:
		c.logger.Warn("server reported error",
			slog.String("code", f.Code),
			slog.String("message", f.Message))

	default:
		c.reducer.Apply(ctx, frame)
	}
}

func (c *Client) send(ctx context.Context, frame protocol.Outbound) {
	if err := c.transport.Send(ctx, frame); err != nil {
		c.logger.Warn("send failed",
			slog.String("frame", frame.Type),
			slog.String("error", err.Error()))
	}
}

// Close ends the session for good: no reconnect will follow. Safe to
// call at any time.
func (c *Client) Close() error {
	c.recon.Cancel()
	c.setState(StateClosing)
	c.wakeRetry()

	return c.transport.Close("client closed")
}

// --- outbound API ---

// SendMessage posts a message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, content string, replyTo *int64) error {
	return c.transport.Send(ctx, protocol.SendMessage(chatID, content, replyTo))
}

// EditMessage edits an existing message.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	return c.transport.Send(ctx, protocol.EditMessage(messageID, content))
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.transport.Send(ctx, protocol.DeleteMessage(messageID))
}

// AddReaction reacts to a message.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	return c.transport.Send(ctx, protocol.AddReaction(messageID, emoji))
}

// RemoveReaction removes the caller's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	return c.transport.Send(ctx, protocol.RemoveReaction(messageID, emoji))
}

// SetTyping reports the caller's typing state in a chat.
func (c *Client) SetTyping(ctx context.Context, chatID int64, isTyping bool) error {
	return c.transport.Send(ctx, protocol.Typing(chatID, isTyping))
}

// MarkAsRead moves the caller's read marker in a chat.
func (c *Client) MarkAsRead(ctx context.Context, chatID, messageID int64) error {
	return c.transport.Send(ctx, protocol.MarkAsRead(chatID, messageID))
}
