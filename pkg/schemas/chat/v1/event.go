package chat

import (
	"encoding/json"
	"strings"
)

// MessageID identifies a message as the chat client reports it.
type MessageID struct {
	ID         string `json:"id"`
	Serialized string `json:"_serialized"`
	FromMe     bool   `json:"fromMe"`
	Remote     string `json:"remote"`
}

type QuotedMessage struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// RawEvent is a chat message exactly as emitted by the chat client.
type RawEvent struct {
	ID           MessageID      `json:"id"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	Author       string         `json:"author,omitempty"` // group sender
	Type         string         `json:"type"`
	Body         string         `json:"body"`
	HasMedia     bool           `json:"hasMedia"`
	HasQuotedMsg bool           `json:"hasQuotedMsg"`
	QuotedMsg    *QuotedMessage `json:"quotedMsg,omitempty"`
	NotifyName   string         `json:"notifyName,omitempty"`
	Timestamp    int64          `json:"timestamp"` // epoch seconds
	IsForwarded  bool           `json:"isForwarded"`
}

func UnmarshalRawEvent(data []byte) (RawEvent, error) {
	var r RawEvent
	err := json.Unmarshal(data, &r)
	return r, err
}

func (r *RawEvent) Validate() error {
	ve := &ValidationError{}
	if r.ID.ID == "" {
		ve.add("id.id", "required")
	}
	if r.From == "" {
		ve.add("from", "required")
	}
	if r.Type == "" {
		ve.add("type", "required")
	}
	return ve.orNil()
}

// SerializedID is the id used by the chat client's media endpoint.
func (r *RawEvent) SerializedID() string {
	if r.ID.Serialized != "" {
		return r.ID.Serialized
	}
	return r.ID.ID
}

func (r *RawEvent) IsGroup() bool { return strings.HasSuffix(r.From, "@g.us") }

// ChatID is From without its "@domain" suffix.
func (r *RawEvent) ChatID() string { return StripDomain(r.From) }

// AuthorID is the group sender when present, else the chat.
func (r *RawEvent) AuthorID() string {
	if r.Author != "" {
		return r.Author
	}
	return r.From
}

func StripDomain(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// EditEvent reports that the body of an already emitted message changed.
type EditEvent struct {
	Message  RawEvent `json:"message"`
	NewBody  string   `json:"newBody"`
	PrevBody string   `json:"prevBody"`
}

func (e *EditEvent) Validate() error {
	ve := &ValidationError{}
	if e.Message.ID.ID == "" {
		ve.add("message.id.id", "required")
	}
	if e.Message.From == "" {
		ve.add("message.from", "required")
	}
	return ve.orNil()
}
