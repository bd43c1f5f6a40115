package realtime

import (
	"encoding/json"

	"go.uber.org/zap"

	"teamup-messaging/internal/storage"
)

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type userTyping struct {
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// Bus fans transient events out to room members. Delivery is best effort: nothing is queued
// for members that are not joined and nothing is retried.
type Bus struct {
	logger   *zap.SugaredLogger
	registry *Registry
}

// NewBus returns Bus delivering through registry
func NewBus(logger *zap.SugaredLogger, registry *Registry) *Bus {
	return &Bus{
		logger:   logger,
		registry: registry,
	}
}

// PublishMessage emits new_message to the room of the message's sender and receiver and
// returns the number of members reached
func (b *Bus) PublishMessage(m storage.Message) int {
	room, err := RoomFor(m.SenderID, m.ReceiverID)
	if err != nil {
		b.logger.Warnf("Not publishing message %d: %v", m.ID, err)
		return 0
	}

	return b.publish(room, EventNewMessage, m, nil)
}

// PublishTyping emits user_typing to every member of the room of userID and otherUserID except from
func (b *Bus) PublishTyping(from Member, userID, otherUserID int64, isTyping bool) int {
	room, err := RoomFor(userID, otherUserID)
	if err != nil {
		b.logger.Warnf("Not publishing typing state of user (id: %d): %v", userID, err)
		return 0
	}

	return b.publish(room, EventUserTyping, userTyping{UserID: userID, IsTyping: isTyping}, from)
}

func (b *Bus) publish(room, event string, data interface{}, exclude Member) int {
	payload, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		b.logger.Errorf("Encoding %s frame: %v", event, err)
		return 0
	}

	delivered := b.registry.Broadcast(room, payload, exclude)
	b.logger.Debugf("Delivered %s to %d members of %s", event, delivered, room)

	return delivered
}
