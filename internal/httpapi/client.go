// Package httpapi talks to the chat REST API. Responses use a JSON
// envelope {"data": ..., "error": {"code", "message"}}.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/models"
)

// Client talks to the chat REST API. The token func supplies the
// current access token for authenticated endpoints; it may return ""
// when logged out.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      func() string
}

// apiError is the error half of the response envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient creates an API client. If httpClient is nil,
// http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client, token func() string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if token == nil {
		token = func() string { return "" }
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
	}
}

// request sends a JSON request and decodes the envelope's data field
// into result. Request bodies are wrapped in {"data": body}.
func (c *Client) request(ctx context.Context, method, endpoint string, body, result any, includeAuth bool) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(map[string]any{"data": body})
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if includeAuth {
		token := c.token()
		if token == "" {
			return errors.ErrNoCredentials
		}

		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %v: %w", endpoint, err, errors.ErrAPIRequest)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("API %s: %w", endpoint, errors.ErrAuthExpired)
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *apiError       `json:"error"`
	}

	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("API %s returned status %d: %w", endpoint, resp.StatusCode, errors.ErrAPIRequest)
		}

		return fmt.Errorf("decoding response from %s: %w", endpoint, errors.ErrAPIResponse)
	}

	if envelope.Error != nil && envelope.Error.Message != "" {
		return fmt.Errorf("API %s (%s): %s: %w", endpoint, envelope.Error.Code, envelope.Error.Message, errors.ErrAPIRequest)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("API %s returned status %d: %w", endpoint, resp.StatusCode, errors.ErrAPIRequest)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, errors.ErrAPIResponse)
		}
	}

	return nil
}

// Login exchanges credentials for a token pair and the user profile.
func (c *Client) Login(ctx context.Context, login, password string) (*models.AuthResponse, error) {
	body := map[string]string{"login": login, "password": password}

	var resp models.AuthResponse
	if err := c.request(ctx, http.MethodPost, "/auth/login", body, &resp, false); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp models.AuthResponse
	if err := c.request(ctx, http.MethodPost, "/auth/refresh", body, &resp, false); err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	return &resp, nil
}

// Logout invalidates the refresh token server-side. Best effort; local
// teardown proceeds regardless.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.request(ctx, http.MethodPost, "/auth/logout", nil, nil, true); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	return nil
}

// GetChats returns the user's chats with preview metadata.
func (c *Client) GetChats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	if err := c.request(ctx, http.MethodGet, "/chats", nil, &chats, true); err != nil {
		return nil, fmt.Errorf("fetching chats: %w", err)
	}

	return chats, nil
}

// GetChatMembers returns the membership of a chat.
func (c *Client) GetChatMembers(ctx context.Context, chatID int64) ([]models.ChatMember, error) {
	endpoint := fmt.Sprintf("/chats/%d/members", chatID)

	var members []models.ChatMember
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &members, true); err != nil {
		return nil, fmt.Errorf("fetching chat members: %w", err)
	}

	return members, nil
}

// MessageQuery narrows a message window request.
type MessageQuery struct {
	Limit    int
	BeforeID int64
	AfterID  int64
}

// GetMessages returns a window of a chat's messages.
func (c *Client) GetMessages(ctx context.Context, chatID int64, query MessageQuery) ([]models.Message, error) {
	endpoint := fmt.Sprintf("/chats/%d/messages", chatID)

	params := url.Values{}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}

	if query.BeforeID > 0 {
		params.Set("before_id", strconv.FormatInt(query.BeforeID, 10))
	}

	if query.AfterID > 0 {
		params.Set("after_id", strconv.FormatInt(query.AfterID, 10))
	}

	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var messages []models.Message
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &messages, true); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}

// GetProfile returns the public profile of a user.
func (c *Client) GetProfile(ctx context.Context, userID int64) (*models.UserPublic, error) {
	endpoint := fmt.Sprintf("/users/%d", userID)

	var user models.UserPublic
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &user, true); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	return &user, nil
}

// GetCurrentProfile returns the authenticated user's own profile.
func (c *Client) GetCurrentProfile(ctx context.Context) (*models.UserPublic, error) {
	var user models.UserPublic
	if err := c.request(ctx, http.MethodGet, "/profile", nil, &user, true); err != nil {
		return nil, fmt.Errorf("fetching current profile: %w", err)
	}

	return &user, nil
}
