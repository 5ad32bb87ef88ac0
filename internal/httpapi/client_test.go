package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoronin/pulsechat/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(server.URL, server.Client(), func() string { return "test-access-token" })
}

func writeData(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
}

// --- auth endpoints ---

func TestLogin_SendsWrappedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login must not send auth")

		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "maria", body.Data["login"])
		assert.Equal(t, "secret123", body.Data["password"])

		writeData(t, w, map[string]any{
			"user":          map[string]any{"id": 42, "username": "maria"},
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	})

	resp, err := client.Login(context.Background(), "maria", "secret123")
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.User.ID)
	assert.Equal(t, "access-1", resp.AccessToken)
	assert.Equal(t, "refresh-1", resp.RefreshToken)
}

func TestRefresh_RotatesOnlyAccessToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)

		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body.Data["refresh_token"])

		writeData(t, w, map[string]any{"access_token": "access-2"})
	})

	resp, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
}

func TestLogout_SendsAuthHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/logout", r.URL.Path)
		assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		writeData(t, w, nil)
	})

	require.NoError(t, client.Logout(context.Background()))
}

// --- error handling ---

func TestRequest_EnvelopeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "RATE_LIMITED", "message": "slow down"},
		}))
	})

	_, err := client.GetChats(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAPIRequest)
	assert.Contains(t, err.Error(), "slow down")
}

func TestRequest_Unauthorized_AuthExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetChats(context.Background())
	assert.ErrorIs(t, err, errors.ErrAuthExpired)
}

func TestRequest_NoToken_NoCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server without a token")
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), nil)

	_, err := client.GetChats(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoCredentials)
}

func TestRequest_ServerErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.GetChats(context.Background())
	assert.ErrorIs(t, err, errors.ErrAPIRequest)
}

func TestRequest_MalformedEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": "not-a-chat-list"}`))
	})

	_, err := client.GetChats(context.Background())
	assert.ErrorIs(t, err, errors.ErrAPIResponse)
}

// --- resource endpoints ---

func TestGetChats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/chats", r.URL.Path)
		writeData(t, w, []map[string]any{
			{"chat": map[string]any{"id": 3, "name": "general"}},
			{"chat": map[string]any{"id": 4, "name": "random"}},
		})
	})

	chats, err := client.GetChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, int64(3), chats[0].Chat.ID)
	assert.Equal(t, "general", chats[0].Chat.Name)
}

func TestGetChatMembers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/3/members", r.URL.Path)
		writeData(t, w, []map[string]any{
			{"chat_id": 3, "user_id": 8, "role": "member"},
		})
	})

	members, err := client.GetChatMembers(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(8), members[0].UserID)
}

func TestGetMessages_QueryParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/3/messages", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "100", r.URL.Query().Get("before_id"))
		assert.Empty(t, r.URL.Query().Get("after_id"))
		writeData(t, w, []map[string]any{{"id": 99, "chat_id": 3, "content": "hi"}})
	})

	messages, err := client.GetMessages(context.Background(), 3, MessageQuery{Limit: 50, BeforeID: 100})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(99), messages[0].ID)
}

func TestGetProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/8", r.URL.Path)
		writeData(t, w, map[string]any{"id": 8, "username": "sam"})
	})

	user, err := client.GetProfile(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "sam", user.Username)
}

func TestGetCurrentProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile", r.URL.Path)
		writeData(t, w, map[string]any{"id": 42, "username": "maria"})
	})

	user, err := client.GetCurrentProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
}
