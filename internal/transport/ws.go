package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/protocol"
)

// maxFrameSize caps inbound frame size. Large chat payloads (polls with
// many options, attachment lists) stay well under this.
const maxFrameSize = 1 << 20

// wsConn is the subset of *websocket.Conn the transport uses. Mocked in
// tests.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

//go:generate mockgen -source=ws.go -destination=mock_wsconn.go -package=transport -mock_names=wsConn=MockWSConn

// WS is the direct WebSocket backend. A reader goroutine feeds the
// event channel; writes are serialized with a mutex.
type WS struct {
	url    string
	device string
	logger *slog.Logger
	dial   func(ctx context.Context) (wsConn, error)

	mu           sync.Mutex
	conn         wsConn
	cancelReader context.CancelFunc

	writeMu sync.Mutex
}

// NewWS creates a WebSocket transport for the given URL. The device
// name identifies this client to the server at dial time.
func NewWS(url, device string, logger *slog.Logger) *WS {
	t := &WS{url: url, device: device, logger: logger}
	t.dial = t.dialServer

	return t
}

func (t *WS) dialServer(ctx context.Context) (wsConn, error) {
	var opts *websocket.DialOptions
	if t.device != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{"X-Device-Name": []string{t.device}},
		}
	}

	conn, _, err := websocket.Dial(ctx, t.url, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", t.url, err)
	}

	conn.SetReadLimit(maxFrameSize)

	return conn, nil
}

// Connect dials the server and returns the event stream for this
// connection. The first event is Opened.
func (t *WS) Connect(ctx context.Context) (<-chan Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil, fmt.Errorf("transport already connected")
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	// The reader outlives the dial context; only Close stops it.
	readerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t.conn = conn
	t.cancelReader = cancel

	ch := make(chan Event, eventBuffer)
	ch <- Opened{}

	go t.readLoop(readerCtx, conn, ch)

	return ch, nil
}

// readLoop reads frames until the connection dies, then emits the
// terminal event and closes the channel. The channel and conn are
// captured by value so a reader from a previous connection can never
// touch the current one.
func (t *WS) readLoop(ctx context.Context, conn wsConn, ch chan Event) {
	defer close(ch)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.detach(conn)
			ch <- t.terminalEvent(ctx, err)

			return
		}

		if typ != websocket.MessageText {
			t.logger.Debug("ignoring non-text frame", slog.Int("type", int(typ)))
			continue
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			if stderrors.Is(err, errors.ErrUnknownFrame) {
				t.logger.Debug("ignoring unknown frame", slog.String("error", err.Error()))
			} else {
				t.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
			}

			continue
		}

		ch <- Frame{Frame: frame}
	}
}

func (t *WS) terminalEvent(ctx context.Context, err error) Event {
	if ctx.Err() != nil {
		return Closed{Code: int(websocket.StatusNormalClosure), Reason: "closed by client"}
	}

	if status := websocket.CloseStatus(err); status != -1 {
		return Closed{Code: int(status), Reason: err.Error()}
	}

	return Failed{Err: err}
}

// detach clears the connection slot if it still holds conn.
func (t *WS) detach(conn wsConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == conn {
		t.conn = nil

		if t.cancelReader != nil {
			t.cancelReader()
			t.cancelReader = nil
		}
	}
}

// Send encodes and writes an outbound frame.
func (t *WS) Send(ctx context.Context, frame protocol.Outbound) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return errors.ErrNotConnected
	}

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}

	return nil
}

// Close tears down the current connection. The reader emits a Closed
// event and closes the stream. Safe to call when not connected.
func (t *WS) Close(reason string) error {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancelReader
	t.conn = nil
	t.cancelReader = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	if cancel != nil {
		cancel()
	}

	if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	return nil
}
