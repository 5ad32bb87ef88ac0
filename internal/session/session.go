// Package session coordinates the logged-in lifecycle: credential
// storage, the REST client, the realtime client, and the state stores.
// A Coordinator owns at most one live realtime session at a time.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mvoronin/pulsechat/internal/cache"
	"github.com/mvoronin/pulsechat/internal/creds"
	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/httpapi"
	"github.com/mvoronin/pulsechat/internal/models"
	"github.com/mvoronin/pulsechat/internal/realtime"
	"github.com/mvoronin/pulsechat/internal/reducer"
	"github.com/mvoronin/pulsechat/internal/store"
	"github.com/mvoronin/pulsechat/internal/transport"
)

const (
	// refreshLead is how long before the access token's expiry the
	// refresh fires.
	refreshLead = time.Minute

	// fallbackRefreshInterval is used when the access token carries no
	// readable expiry claim.
	fallbackRefreshInterval = 10 * time.Minute
)

// State is the coordinator's auth lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// Deps wires a Coordinator's collaborators. All fields are required
// except OnAuthExpired.
type Deps struct {
	API       *httpapi.Client
	Creds     *creds.Store
	Transport transport.Transport
	Logger    *slog.Logger

	// OnAuthExpired fires after a failed refresh forces the session out.
	OnAuthExpired func()
}

// Coordinator owns the session state machine. The stores it exposes are
// the single source of truth for the UI layer; the realtime client and
// the bootstrap fetches both write into them through the reducer and
// cache.
type Coordinator struct {
	api           *httpapi.Client
	creds         *creds.Store
	transport     transport.Transport
	logger        *slog.Logger
	onAuthExpired func()

	cache     *cache.Cache
	presence  *store.PresenceStore
	typing    *store.TypingStore
	reactions *store.ReactionStore
	reducer   *reducer.Reducer

	mu           sync.Mutex
	state        State
	tokens       models.AuthTokens
	user         *models.UserPublic
	client       *realtime.Client
	cancel       context.CancelFunc
	refreshTimer *time.Timer
}

// New creates a coordinator in the logged-out state.
func New(deps Deps) *Coordinator {
	onExpired := deps.OnAuthExpired
	if onExpired == nil {
		onExpired = func() {}
	}

	c := &Coordinator{
		api:           deps.API,
		creds:         deps.Creds,
		transport:     deps.Transport,
		logger:        deps.Logger,
		onAuthExpired: onExpired,
		cache:         cache.New(),
		presence:      store.NewPresenceStore(deps.Logger),
		typing:        store.NewTypingStore(),
		reactions:     store.NewReactionStore(),
		state:         StateLoggedOut,
	}

	c.reducer = reducer.New(c.cache, c.presence, c.typing, c.reactions, deps.API, deps.Logger)

	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// CurrentUser returns the logged-in user's profile, or nil.
func (c *Coordinator) CurrentUser() *models.UserPublic {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.user
}

// AccessToken returns the current access token, or "" when logged out.
// Passed as the token func to the REST and realtime clients so a
// refresh propagates without rewiring.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tokens.AccessToken
}

// Cache returns the session's data cache.
func (c *Coordinator) Cache() *cache.Cache { return c.cache }

// Presence returns the presence store.
func (c *Coordinator) Presence() *store.PresenceStore { return c.presence }

// Typing returns the typing store.
func (c *Coordinator) Typing() *store.TypingStore { return c.typing }

// Reactions returns the reaction store.
func (c *Coordinator) Reactions() *store.ReactionStore { return c.reactions }

// Realtime returns the live realtime client, or nil when logged out.
func (c *Coordinator) Realtime() *realtime.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.client
}

// Start resumes a session from stored credentials. Missing credentials
// are not an error; the coordinator stays logged out.
func (c *Coordinator) Start(ctx context.Context) error {
	tokens, err := c.creds.Tokens()
	if err != nil {
		if stderrors.Is(err, errors.ErrNoCredentials) {
			c.logger.Info("no stored session")
			return nil
		}

		return fmt.Errorf("loading stored credentials: %w", err)
	}

	c.logger.Info("resuming stored session")
	c.startSession(ctx, tokens, nil)

	return nil
}

// Login authenticates with the server, persists the token pair, and
// starts the realtime session.
func (c *Coordinator) Login(ctx context.Context, login, password string) error {
	c.setState(StateLoggingIn)

	resp, err := c.api.Login(ctx, login, password)
	if err != nil {
		c.setState(StateLoggedOut)

		if stderrors.Is(err, errors.ErrAPIRequest) {
			return fmt.Errorf("%v: %w", err, errors.ErrInvalidCredentials)
		}

		return err
	}

	tokens := models.AuthTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	if err := c.creds.SetTokens(tokens); err != nil {
		c.logger.Warn("persisting credentials failed", slog.String("error", err.Error()))
	}

	user := resp.User
	c.startSession(ctx, tokens, &user)

	c.logger.Info("logged in",
		slog.Int64("user_id", resp.User.ID),
		slog.String("username", resp.User.Username))

	return nil
}

// Logout invalidates the refresh token server-side, best effort, then
// tears the session down locally.
func (c *Coordinator) Logout(ctx context.Context) error {
	if err := c.api.Logout(ctx); err != nil {
		c.logger.Warn("server logout failed", slog.String("error", err.Error()))
	}

	c.ClearSession()

	return nil
}

// startSession spins up the realtime client, the presence sweeper, and
// the token refresh timer. Shared by Start and Login. A session that is
// already live is torn down first; the coordinator never runs two
// realtime clients at once.
func (c *Coordinator) startSession(ctx context.Context, tokens models.AuthTokens, user *models.UserPublic) {
	c.mu.Lock()
	live := c.client != nil
	c.mu.Unlock()

	if live {
		c.logger.Info("replacing live session")
		c.Stop()
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	client := realtime.New(realtime.Config{
		Transport:       c.transport,
		Reducer:         c.reducer,
		Logger:          c.logger,
		Token:           c.AccessToken,
		Roster:          c.roster,
		OnAuthenticated: func(userID int64) {
			c.presence.SetOnline(userID, nil)
			go c.bootstrap(sessionCtx, userID)
		},
	})

	c.mu.Lock()
	c.state = StateLoggedIn
	c.tokens = tokens
	c.user = user
	c.client = client
	c.cancel = cancel
	c.mu.Unlock()

	go c.presence.RunSweeper(sessionCtx)

	go func() {
		err := client.Run(sessionCtx)
		if err != nil && sessionCtx.Err() == nil {
			c.logger.Warn("realtime session ended", slog.String("error", err.Error()))
		}
	}()

	c.scheduleRefresh(sessionCtx, tokens.AccessToken)
}

// bootstrap primes the cache once the realtime handshake confirms. The
// chat list seeds previews; memberships seed the presence roster.
func (c *Coordinator) bootstrap(ctx context.Context, userID int64) {
	if c.CurrentUser() == nil {
		if user, err := c.api.GetCurrentProfile(ctx); err != nil {
			c.logger.Warn("fetching own profile", slog.String("error", err.Error()))
		} else {
			c.mu.Lock()
			c.user = user
			c.mu.Unlock()
		}
	}

	chats, err := c.api.GetChats(ctx)
	if err != nil {
		c.logger.Warn("fetching chats", slog.String("error", err.Error()))
		return
	}

	c.cache.Set(reducer.ChatsKey, chats)

	for _, summary := range chats {
		chatID := summary.Chat.ID

		members, err := c.api.GetChatMembers(ctx, chatID)
		if err != nil {
			c.logger.Warn("fetching chat members",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()))

			continue
		}

		c.cache.Set(reducer.MembersKey(chatID), members)
	}

	c.logger.Info("session bootstrapped",
		slog.Int64("user_id", userID),
		slog.Int("chats", len(chats)))
}

// roster collects the distinct user ids across all cached chat
// memberships for the periodic presence poll.
func (c *Coordinator) roster() []int64 {
	seen := make(map[int64]struct{})

	var ids []int64

	for _, key := range c.cache.Keys(reducer.MembersPrefix) {
		cached, ok := c.cache.Get(key)
		if !ok {
			continue
		}

		members, ok := cached.([]models.ChatMember)
		if !ok {
			continue
		}

		for _, member := range members {
			if _, dup := seen[member.UserID]; dup {
				continue
			}

			seen[member.UserID] = struct{}{}
			ids = append(ids, member.UserID)
		}
	}

	return ids
}

// scheduleRefresh arms a timer to refresh the access token ahead of its
// expiry. The expiry is read from the token's unverified claims; the
// server remains the authority on validity.
func (c *Coordinator) scheduleRefresh(ctx context.Context, accessToken string) {
	delay := refreshDelay(accessToken, time.Now())

	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}

	c.refreshTimer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}

		c.refreshToken(ctx)
	})
	c.mu.Unlock()

	c.logger.Debug("token refresh scheduled", slog.Duration("in", delay))
}

// refreshDelay computes how long to wait before refreshing the given
// access token.
func refreshDelay(accessToken string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return fallbackRefreshInterval
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallbackRefreshInterval
	}

	delay := exp.Sub(now) - refreshLead
	if delay < 0 {
		return 0
	}

	return delay
}

// refreshToken exchanges the refresh token for a new access token. A
// failed refresh means the session cannot be kept alive, so it is torn
// down and OnAuthExpired fires.
func (c *Coordinator) refreshToken(ctx context.Context) {
	c.mu.Lock()
	refresh := c.tokens.RefreshToken
	c.mu.Unlock()

	if refresh == "" {
		return
	}

	resp, err := c.api.Refresh(ctx, refresh)
	if err != nil {
		c.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		c.expireSession()

		return
	}

	c.mu.Lock()
	c.tokens.AccessToken = resp.AccessToken
	c.mu.Unlock()

	if err := c.creds.SetAccessToken(resp.AccessToken); err != nil {
		c.logger.Warn("persisting refreshed token", slog.String("error", err.Error()))
	}

	c.logger.Debug("access token refreshed")
	c.scheduleRefresh(ctx, resp.AccessToken)
}

// expireSession tears down after a refresh failure and notifies the
// owner so the UI can prompt for a fresh login.
func (c *Coordinator) expireSession() {
	c.logger.Info("session expired")
	c.ClearSession()
	c.onAuthExpired()
}

// Stop tears the live session down but keeps the persisted token pair,
// so the next Start resumes where this one left off. Idempotent.
func (c *Coordinator) Stop() {
	c.teardown(false)
}

// ClearSession stops the realtime client and all timers, wipes every
// store, and removes the persisted token pair. Idempotent.
func (c *Coordinator) ClearSession() {
	c.teardown(true)
}

func (c *Coordinator) teardown(wipeCreds bool) {
	c.mu.Lock()
	client := c.client
	cancel := c.cancel
	timer := c.refreshTimer

	c.state = StateLoggedOut
	c.tokens = models.AuthTokens{}
	c.user = nil
	c.client = nil
	c.cancel = nil
	c.refreshTimer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	if client != nil {
		if err := client.Close(); err != nil {
			c.logger.Debug("closing realtime client", slog.String("error", err.Error()))
		}
	}

	if cancel != nil {
		cancel()
	}

	c.cache.Clear()
	c.presence.Clear()
	c.typing.Clear()
	c.reactions.Clear()

	if !wipeCreds {
		return
	}

	if err := c.creds.Clear(); err != nil {
		c.logger.Warn("clearing stored credentials", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
