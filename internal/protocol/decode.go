package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/mvoronin/pulsechat/internal/errors"
)

// Decode parses a raw server frame into its typed form. The type tag is
// peeked with gjson before committing to a full decode. Frames with a
// type the client does not know return errors.ErrUnknownFrame; callers
// log and drop those rather than failing the connection.
func Decode(raw []byte) (ServerFrame, error) {
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.Str == "" {
		return nil, fmt.Errorf("frame missing type tag")
	}

	data := []byte(gjson.GetBytes(raw, "data").Raw)

	switch typ.Str {
	case TypePong:
		return Pong{}, nil
	case TypeAuthenticated:
		return decodeInto[Authenticated](typ.Str, data)
	case TypeError:
		return decodeInto[ServerError](typ.Str, data)
	case TypeNewMessage:
		return decodeInto[NewMessage](typ.Str, data)
	case TypeMessageEdited:
		return decodeInto[MessageEdited](typ.Str, data)
	case TypeMessageDeleted:
		return decodeInto[MessageDeleted](typ.Str, data)
	case TypeReactionAdded:
		return decodeInto[ReactionAdded](typ.Str, data)
	case TypeReactionRemoved:
		return decodeInto[ReactionRemoved](typ.Str, data)
	case TypeUserOnline:
		return decodeInto[UserOnline](typ.Str, data)
	case TypeUserOffline:
		return decodeInto[UserOffline](typ.Str, data)
	case TypeOnlineList:
		return decodeInto[OnlineList](typ.Str, data)
	case TypeUserTyping:
		return decodeInto[UserTyping](typ.Str, data)
	case TypeMessageRead:
		return decodeInto[MessageRead](typ.Str, data)
	case TypePollCreated:
		return decodeInto[PollCreated](typ.Str, data)
	case TypePollVoted:
		return decodeInto[PollVoted](typ.Str, data)
	case TypePollClosed:
		return decodeInto[PollClosed](typ.Str, data)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownFrame, typ.Str)
	}
}

func decodeInto[T ServerFrame](typ string, data []byte) (ServerFrame, error) {
	var frame T
	if len(data) == 0 {
		return frame, nil
	}

	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding %s frame: %w", typ, err)
	}

	return frame, nil
}

// Encode serializes an outbound frame for the wire.
func Encode(frame Outbound) ([]byte, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}

	return raw, nil
}
