package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/logging"
	"github.com/mvoronin/pulsechat/internal/protocol"
)

// bridgeHarness wires a Bridge to a MockHost, capturing push handlers
// and unsubscribe counts so tests can drive host events directly.
type bridgeHarness struct {
	host     *MockHost
	bridge   *Bridge
	handlers map[string]func(json.RawMessage)
	unsubbed map[string]int
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	ctrl := gomock.NewController(t)

	h := &bridgeHarness{
		host:     NewMockHost(ctrl),
		handlers: make(map[string]func(json.RawMessage)),
		unsubbed: make(map[string]int),
	}
	h.bridge = NewBridge(h.host, "wss://api.test.invalid/ws", "test-device", logging.NewNop())

	return h
}

// expectSubscriptions captures the three push subscriptions.
func (h *bridgeHarness) expectSubscriptions() {
	h.host.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(
		func(event string, handler func(json.RawMessage)) (func(), error) {
			h.handlers[event] = handler
			return func() { h.unsubbed[event]++ }, nil
		})
}

func (h *bridgeHarness) connect(t *testing.T) <-chan Event {
	t.Helper()

	h.expectSubscriptions()
	h.host.EXPECT().Invoke(gomock.Any(), hostCmdConnect, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, payload any) (json.RawMessage, error) {
			fields, ok := payload.(map[string]string)
			require.True(t, ok)
			assert.Equal(t, "wss://api.test.invalid/ws", fields["url"])
			assert.Equal(t, "test-device", fields["device"])
			assert.NotEmpty(t, fields["conn_id"])
			return nil, nil
		})

	ch, err := h.bridge.Connect(context.Background())
	require.NoError(t, err)

	return ch
}

// --- connect ---

func TestBridge_Connect_SubscribesThenInvokes(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)

	assert.IsType(t, Opened{}, <-ch)
	assert.Contains(t, h.handlers, hostEventMessage)
	assert.Contains(t, h.handlers, hostEventClose)
	assert.Contains(t, h.handlers, hostEventError)
}

func TestBridge_Connect_InvokeFails_DropsSubscriptions(t *testing.T) {
	h := newBridgeHarness(t)

	h.expectSubscriptions()
	h.host.EXPECT().Invoke(gomock.Any(), hostCmdConnect, gomock.Any()).
		Return(nil, fmt.Errorf("host unreachable"))

	_, err := h.bridge.Connect(context.Background())
	require.ErrorContains(t, err, "host unreachable")

	for event, count := range h.unsubbed {
		assert.Equal(t, 1, count, "subscription %s should be dropped", event)
	}
	assert.Len(t, h.unsubbed, 3)
}

func TestBridge_Connect_WhileConnected_Fails(t *testing.T) {
	h := newBridgeHarness(t)

	h.connect(t)

	_, err := h.bridge.Connect(context.Background())
	assert.ErrorContains(t, err, "already connected")
}

// --- push events ---

func TestBridge_MessageEvent_DeliversFrame(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventMessage]([]byte(`{"type":"user_typing","data":{"chat_id":3,"user_id":8,"is_typing":true}}`))

	frame, ok := (<-ch).(Frame)
	require.True(t, ok)
	assert.Equal(t, protocol.UserTyping{ChatID: 3, UserID: 8, IsTyping: true}, frame.Frame)
}

func TestBridge_MessageEvent_UnknownFrameDropped(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventMessage]([]byte(`{"type":"server_maintenance"}`))
	h.handlers[hostEventClose]([]byte(`{"code":1001,"reason":"going away"}`))

	events := drain(ch)
	require.Len(t, events, 1, "unknown frame should be dropped")
	assert.Equal(t, Closed{Code: 1001, Reason: "going away"}, events[0])
}

func TestBridge_CloseEvent_TerminatesStream(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventClose]([]byte(`{"code":1006,"reason":"abnormal"}`))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, Closed{Code: 1006, Reason: "abnormal"}, events[0])

	for event, count := range h.unsubbed {
		assert.Equal(t, 1, count, "subscription %s should be dropped on close", event)
	}
}

func TestBridge_ErrorEvent_Failed(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventError]([]byte(`{"message":"socket torn down"}`))

	events := drain(ch)
	require.Len(t, events, 1)

	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.ErrorContains(t, failed.Err, "socket torn down")
}

func TestBridge_MessageEvent_AfterClose_Dropped(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventClose]([]byte(`{"code":1000,"reason":"done"}`))
	h.handlers[hostEventMessage]([]byte(`{"type":"user_typing","data":{"chat_id":3,"user_id":8,"is_typing":true}}`))

	events := drain(ch)
	require.Len(t, events, 1, "frame after close should be dropped")
	assert.Equal(t, Closed{Code: 1000, Reason: "done"}, events[0])
}

func TestBridge_DuplicateTerminalEvents_Ignored(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.handlers[hostEventClose]([]byte(`{"code":1000,"reason":"first"}`))
	h.handlers[hostEventClose]([]byte(`{"code":1000,"reason":"second"}`))
	h.handlers[hostEventError]([]byte(`{"message":"late"}`))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, Closed{Code: 1000, Reason: "first"}, events[0])
}

// --- send ---

func TestBridge_Send_NotConnected(t *testing.T) {
	h := newBridgeHarness(t)

	err := h.bridge.Send(context.Background(), protocol.Ping())
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestBridge_Send_RelaysFrame(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.host.EXPECT().Invoke(gomock.Any(), hostCmdSend, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, payload any) (json.RawMessage, error) {
			fields, ok := payload.(map[string]any)
			require.True(t, ok)
			assert.NotEmpty(t, fields["conn_id"])
			assert.Equal(t, protocol.Typing(3, true), fields["frame"])
			return nil, nil
		})

	require.NoError(t, h.bridge.Send(context.Background(), protocol.Typing(3, true)))
}

// --- close ---

func TestBridge_Close_Idle_NoOp(t *testing.T) {
	h := newBridgeHarness(t)

	assert.NoError(t, h.bridge.Close("bye"))
}

func TestBridge_Close_InvokesDisconnectAndTearsDown(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.host.EXPECT().Invoke(gomock.Any(), hostCmdDisconnect, gomock.Any()).Return(nil, nil)

	require.NoError(t, h.bridge.Close("logout"))

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, Closed{Code: 1000, Reason: "logout"}, events[0])

	for event, count := range h.unsubbed {
		assert.Equal(t, 1, count, "subscription %s should be dropped", event)
	}

	// Reconnect gets a fresh stream and id.
	h.connect(t)
}

func TestBridge_Close_DisconnectError_StillTearsDown(t *testing.T) {
	h := newBridgeHarness(t)

	ch := h.connect(t)
	<-ch // Opened

	h.host.EXPECT().Invoke(gomock.Any(), hostCmdDisconnect, gomock.Any()).
		Return(nil, fmt.Errorf("host gone"))

	err := h.bridge.Close("logout")
	assert.ErrorContains(t, err, "host gone")

	events := drain(ch)
	require.Len(t, events, 1)
	assert.IsType(t, Closed{}, events[0])
}
