// Package models defines domain types shared across internal packages.
package models

import "time"

// UserPublic is the public view of a user as returned by the server.
type UserPublic struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Name       string     `json:"name"`
	Bio        string     `json:"bio,omitempty"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	IsBot      bool       `json:"is_bot"`
	IsVerified bool       `json:"is_verified"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// AuthTokens is the credential pair issued at login. Refresh rotates
// only the access token; the refresh token stays fixed until logout.
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is the login/refresh response payload.
type AuthResponse struct {
	User         UserPublic `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
}

// Chat is a conversation container (direct, group or channel).
type Chat struct {
	ID          int64     `json:"id"`
	ChatType    string    `json:"chat_type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatSummary is a chat plus the denormalized preview fields shown in a
// conversation list: the last message and a snapshot of its sender.
type ChatSummary struct {
	Chat        Chat        `json:"chat"`
	LastMessage *Message    `json:"last_message,omitempty"`
	LastSender  *UserPublic `json:"last_sender,omitempty"`
	UnreadCount int         `json:"unread_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ChatMember is a user's membership record in a chat.
type ChatMember struct {
	ChatID            int64      `json:"chat_id"`
	UserID            int64      `json:"user_id"`
	Role              string     `json:"role"`
	JoinedAt          time.Time  `json:"joined_at"`
	LastReadMessageID *int64     `json:"last_read_message_id,omitempty"`
	User              UserPublic `json:"user"`
}

// Message is a single chat message with its embedded reaction and
// attachment lists as the server denormalizes them.
type Message struct {
	ID               int64               `json:"id"`
	ChatID           int64               `json:"chat_id"`
	SenderID         int64               `json:"sender_id"`
	ReplyToMessageID *int64              `json:"reply_to_message_id,omitempty"`
	Content          string              `json:"content"`
	IsEdited         bool                `json:"is_edited"`
	CreatedAt        time.Time           `json:"created_at"`
	EditedAt         *time.Time          `json:"edited_at,omitempty"`
	Attachments      []MessageAttachment `json:"attachments,omitempty"`
	Reactions        []MessageReaction   `json:"reactions,omitempty"`
}

// MessageReaction is one user's emoji reaction on a message.
type MessageReaction struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageAttachment is an uploaded file referenced by a message.
type MessageAttachment struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	URL       string `json:"url"`
}

// Poll is a poll attached to a chat.
type Poll struct {
	ID          int64      `json:"id"`
	ChatID      int64      `json:"chat_id"`
	CreatorID   int64      `json:"creator_id"`
	Question    string     `json:"question"`
	IsMultiple  bool       `json:"is_multiple"`
	IsAnonymous bool       `json:"is_anonymous"`
	IsClosed    bool       `json:"is_closed"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// PollOption is one answer option of a poll with its running tally.
type PollOption struct {
	ID        int64  `json:"id"`
	PollID    int64  `json:"poll_id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}
