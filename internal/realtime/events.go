package realtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fastjson"
)

// Inbound event names
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// Outbound event names
const (
	EventNewMessage = "new_message"
	EventUserTyping = "user_typing"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

var validate = validator.New()

// Event is one of JoinChat, LeaveChat, SendMessage or Typing
type Event interface {
	Name() string
	// Actor is the user the event claims to come from
	Actor() int64
}

// JoinChat asks to receive events of the room shared with OtherUserID
type JoinChat struct {
	UserID      int64 `validate:"gt=0"`
	OtherUserID int64 `validate:"gt=0"`
}

// LeaveChat stops delivery of events of the room shared with OtherUserID
type LeaveChat struct {
	UserID      int64 `validate:"gt=0"`
	OtherUserID int64 `validate:"gt=0"`
}

// SendMessage stores a message and pushes it to the room of the pair
type SendMessage struct {
	SenderID   int64  `validate:"gt=0"`
	ReceiverID int64  `validate:"gt=0"`
	Content    string `validate:"required"`
}

// Typing relays the typing state of UserID to the other members of the room
type Typing struct {
	UserID      int64 `validate:"gt=0"`
	OtherUserID int64 `validate:"gt=0"`
	IsTyping    bool
}

func (JoinChat) Name() string    { return EventJoinChat }
func (LeaveChat) Name() string   { return EventLeaveChat }
func (SendMessage) Name() string { return EventSendMessage }
func (Typing) Name() string      { return EventTyping }

func (e JoinChat) Actor() int64    { return e.UserID }
func (e LeaveChat) Actor() int64   { return e.UserID }
func (e SendMessage) Actor() int64 { return e.SenderID }
func (e Typing) Actor() int64      { return e.UserID }

// decodeEvent parses a frame of the form {"event": "<name>", "data": {...}} into its typed variant
// and validates required fields
func decodeEvent(p *fastjson.Parser, frame []byte) (Event, error) {
	v, err := p.ParseBytes(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	name := string(v.GetStringBytes("event"))
	data := v.Get("data")
	if data == nil || data.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: data must be an object", ErrMalformedFrame)
	}

	var ev Event
	switch name {
	case EventJoinChat:
		ev = JoinChat{UserID: id(data, "user_id"), OtherUserID: id(data, "other_user_id")}
	case EventLeaveChat:
		ev = LeaveChat{UserID: id(data, "user_id"), OtherUserID: id(data, "other_user_id")}
	case EventSendMessage:
		ev = SendMessage{
			SenderID:   id(data, "sender_id"),
			ReceiverID: id(data, "receiver_id"),
			Content:    strings.TrimSpace(string(data.GetStringBytes("content"))),
		}
	case EventTyping:
		ev = Typing{
			UserID:      id(data, "user_id"),
			OtherUserID: id(data, "other_user_id"),
			IsTyping:    data.GetBool("is_typing"),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, name, err)
	}

	return ev, nil
}

// id returns the integer field key of obj, 0 when it is missing or not an integer
func id(obj *fastjson.Value, key string) int64 {
	v := obj.Get(key)
	if v == nil {
		return 0
	}
	n, err := v.Int64()
	if err != nil {
		return 0
	}
	return n
}
