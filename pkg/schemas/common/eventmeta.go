package common

type EventMeta struct {
	EventType string // e.g. "chat.message.v1"
	Queue     string // e.g. "new-message"
}
