package chat

import "github.com/roboricindustries/chat-ingest/pkg/schemas/common"

const (
	QueueNewMessage  = "new-message"
	QueueEditMessage = "edit-message"

	EventTypeMessage = "chat.message.v1"
	EventTypeEdit    = "chat.message_edited.v1"
	EventTypeReply   = "chat.message_reply.v1"
)

var NewMessageMeta = common.EventMeta{
	EventType: EventTypeMessage,
	Queue:     QueueNewMessage,
}

var EditMessageMeta = common.EventMeta{
	EventType: EventTypeEdit,
	Queue:     QueueEditMessage,
}
