// Package protocol defines the wire frames exchanged over the realtime
// connection. Every frame is a JSON envelope {"type": ..., "data": ...}.
package protocol

import (
	"time"

	"github.com/mvoronin/pulsechat/internal/models"
)

// Outbound frame types.
const (
	TypeAuthenticate    = "authenticate"
	TypeSendMessage     = "send_message"
	TypeEditMessage     = "edit_message"
	TypeDeleteMessage   = "delete_message"
	TypeAddReaction     = "add_reaction"
	TypeRemoveReaction  = "remove_reaction"
	TypeTyping          = "typing"
	TypeMarkAsRead      = "mark_as_read"
	TypeGetOnlineList   = "get_online_list"
	TypeGetOnlineStatus = "get_online_status"
	TypePing            = "ping"
)

// Inbound frame types.
const (
	TypePong            = "pong"
	TypeAuthenticated   = "authenticated"
	TypeError           = "error"
	TypeNewMessage      = "new_message"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeReactionAdded   = "reaction_added"
	TypeReactionRemoved = "reaction_removed"
	TypeUserOnline      = "user_online"
	TypeUserOffline     = "user_offline"
	TypeOnlineList      = "online_list"
	TypeUserTyping      = "user_typing"
	TypeMessageRead     = "message_read"
	TypePollCreated     = "poll_created"
	TypePollVoted       = "poll_voted"
	TypePollClosed      = "poll_closed"
)

// Outbound is a client-to-server frame ready for JSON encoding.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Authenticate builds the auth handshake frame. The token carries the
// Bearer prefix on the wire.
func Authenticate(token string) Outbound {
	return Outbound{Type: TypeAuthenticate, Data: map[string]string{
		"token": "Bearer " + token,
	}}
}

// SendMessage builds a new-message frame.
func SendMessage(chatID int64, content string, replyToMessageID *int64) Outbound {
	data := map[string]any{
		"chat_id": chatID,
		"content": content,
	}
	if replyToMessageID != nil {
		data["reply_to_message_id"] = *replyToMessageID
	}

	return Outbound{Type: TypeSendMessage, Data: data}
}

// EditMessage builds an edit frame for an existing message.
func EditMessage(messageID int64, content string) Outbound {
	return Outbound{Type: TypeEditMessage, Data: map[string]any{
		"message_id": messageID,
		"content":    content,
	}}
}

// DeleteMessage builds a delete frame.
func DeleteMessage(messageID int64) Outbound {
	return Outbound{Type: TypeDeleteMessage, Data: map[string]any{
		"message_id": messageID,
	}}
}

// AddReaction builds a reaction-add frame.
func AddReaction(messageID int64, emoji string) Outbound {
	return Outbound{Type: TypeAddReaction, Data: map[string]any{
		"message_id": messageID,
		"emoji":      emoji,
	}}
}

// RemoveReaction builds a reaction-remove frame.
func RemoveReaction(messageID int64, emoji string) Outbound {
	return Outbound{Type: TypeRemoveReaction, Data: map[string]any{
		"message_id": messageID,
		"emoji":      emoji,
	}}
}

// Typing builds a typing indicator frame.
func Typing(chatID int64, isTyping bool) Outbound {
	return Outbound{Type: TypeTyping, Data: map[string]any{
		"chat_id":   chatID,
		"is_typing": isTyping,
	}}
}

// MarkAsRead builds a read-marker frame.
func MarkAsRead(chatID, messageID int64) Outbound {
	return Outbound{Type: TypeMarkAsRead, Data: map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}}
}

// GetOnlineList asks the server for the full set of currently online
// user ids. Sent once after authentication.
func GetOnlineList() Outbound {
	return Outbound{Type: TypeGetOnlineList}
}

// GetOnlineStatus asks the server for the online status of a specific
// roster of users. Sent periodically for chat-membership rosters.
func GetOnlineStatus(userIDs []int64) Outbound {
	return Outbound{Type: TypeGetOnlineStatus, Data: map[string]any{
		"user_ids": userIDs,
	}}
}

// Ping builds a heartbeat frame.
func Ping() Outbound {
	return Outbound{Type: TypePing}
}

// ServerFrame is a decoded server-to-client frame. The set of
// implementations is closed; Decode is the only constructor.
type ServerFrame interface {
	serverFrame()
}

// Pong acknowledges a ping.
type Pong struct{}

// Authenticated confirms the auth handshake. The session is usable for
// authenticated operations only after this frame arrives.
type Authenticated struct {
	UserID int64 `json:"user_id"`
}

// ServerError is an in-band error report from the server.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewMessage carries a freshly posted message.
type NewMessage struct {
	Message models.Message `json:"message"`
}

// MessageEdited carries the updated fields of an edited message.
type MessageEdited struct {
	Message models.Message `json:"message"`
}

// MessageDeleted announces a message removal.
type MessageDeleted struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// ReactionAdded carries a newly added reaction.
type ReactionAdded struct {
	MessageID int64                  `json:"message_id"`
	Reaction  models.MessageReaction `json:"reaction"`
}

// ReactionRemoved announces a reaction removal. Servers send either the
// reaction id or the user id plus emoji; both shapes are accepted.
type ReactionRemoved struct {
	MessageID  int64  `json:"message_id"`
	ReactionID int64  `json:"reaction_id,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
	Emoji      string `json:"emoji,omitempty"`
}

// UserOnline announces a presence transition to online.
type UserOnline struct {
	UserID int64 `json:"user_id"`
}

// UserOffline announces a presence transition to offline. LastSeenAt is
// optional; when absent the local clock is used.
type UserOffline struct {
	UserID     int64      `json:"user_id"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// OnlineList is the bulk response to get_online_list or
// get_online_status.
type OnlineList struct {
	UserIDs []int64 `json:"user_ids"`
}

// UserTyping is a typing indicator for a chat.
type UserTyping struct {
	ChatID   int64 `json:"chat_id"`
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// MessageRead reports that a member read up to a message.
type MessageRead struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
}

// PollCreated announces a new poll in a chat.
type PollCreated struct {
	ChatID  int64               `json:"chat_id"`
	Poll    models.Poll         `json:"poll"`
	Options []models.PollOption `json:"options,omitempty"`
}

// PollVoted announces a vote on a poll.
type PollVoted struct {
	ChatID    int64   `json:"chat_id"`
	PollID    int64   `json:"poll_id"`
	OptionIDs []int64 `json:"option_ids"`
	VoterID   *int64  `json:"voter_id,omitempty"`
}

// PollClosed announces that a poll stopped accepting votes.
type PollClosed struct {
	ChatID int64 `json:"chat_id"`
	PollID int64 `json:"poll_id"`
}

func (Pong) serverFrame()            {}
func (Authenticated) serverFrame()   {}
func (ServerError) serverFrame()     {}
func (NewMessage) serverFrame()      {}
func (MessageEdited) serverFrame()   {}
func (MessageDeleted) serverFrame()  {}
func (ReactionAdded) serverFrame()   {}
func (ReactionRemoved) serverFrame() {}
func (UserOnline) serverFrame()      {}
func (UserOffline) serverFrame()     {}
func (OnlineList) serverFrame()      {}
func (UserTyping) serverFrame()      {}
func (MessageRead) serverFrame()     {}
func (PollCreated) serverFrame()     {}
func (PollVoted) serverFrame()       {}
func (PollClosed) serverFrame()      {}
