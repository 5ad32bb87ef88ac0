// Package transport carries protocol frames between the client and the
// server. Two interchangeable backends exist: a direct WebSocket
// connection, and a bridge that relays through a privileged host
// process. Both expose the same event stream semantics.
package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mvoronin/pulsechat/internal/config"
	"github.com/mvoronin/pulsechat/internal/protocol"
)

// eventBuffer sizes each connection's event channel. The consumer is a
// single event loop; the buffer absorbs short dispatch stalls.
const eventBuffer = 32

// Event is a discrete occurrence on a transport connection. The stream
// for one connection is: Opened, zero or more Frame events, then
// exactly one Closed or Failed, after which the channel is closed.
type Event interface {
	transportEvent()
}

// Opened reports that the connection is established and writable.
type Opened struct{}

// Frame delivers a decoded server frame.
type Frame struct {
	Frame protocol.ServerFrame
}

// Closed reports that the connection ended with a close handshake or a
// deliberate local close.
type Closed struct {
	Code   int
	Reason string
}

// Failed reports that the connection died without a close handshake.
type Failed struct {
	Err error
}

func (Opened) transportEvent() {}
func (Frame) transportEvent()  {}
func (Closed) transportEvent() {}
func (Failed) transportEvent() {}

// Transport is a single logical connection slot. Connect establishes a
// connection and returns its event stream; after the stream terminates
// Connect may be called again. Send and Close act on the current
// connection.
type Transport interface {
	Connect(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, frame protocol.Outbound) error
	Close(reason string) error
}

// New builds the transport selected by the config. The bridge backend
// requires a Host; the websocket backend ignores it.
func New(cfg *config.Config, host Host, logger *slog.Logger) (Transport, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		return NewWS(cfg.WSURL, cfg.DeviceName, logger), nil
	case config.TransportBridge:
		if host == nil {
			return nil, fmt.Errorf("bridge transport requires a host")
		}

		return NewBridge(host, cfg.WSURL, cfg.DeviceName, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", cfg.Transport)
	}
}
