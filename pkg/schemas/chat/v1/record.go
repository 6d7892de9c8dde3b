package chat

import "time"

type EditHistoryEntry struct {
	PrevBody  string `json:"prevBody"`
	NewBody   string `json:"newBody"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// CanonicalRecord is the normalized, persisted form of a RawEvent.
type CanonicalRecord struct {
	UID        MessageID `json:"uid"`
	Timestamp  string    `json:"timestamp"` // local display form
	AuthorName string    `json:"authorName"`
	AuthorID   string    `json:"authorId"`
	IsFromMe   bool      `json:"isFromMe"`
	IsGroup    bool      `json:"isGroup"`
	GroupID    *string   `json:"groupId"`
	MsgType    string    `json:"msgType"`
	Body       string    `json:"body"`

	MediaPath *string `json:"mediaPath"`
	MediaType *string `json:"mediaType"`

	IsQuotedMessage     bool           `json:"isQuotedMessage"`
	QuotedMessageType   *string        `json:"quotedMessageType"`
	QuotedMessageBody   *string        `json:"quotedMessageBody"`
	QuotedMessageObject *QuotedMessage `json:"quotedMessageObject"`

	IsVoiceMessage     bool `json:"isVoiceMessage"`
	IsImage            bool `json:"isImage"`
	DidInterpreterFail bool `json:"didInterpreterFail"`

	EditHistory  []EditHistoryEntry `json:"editHistory,omitempty"`
	RawMsgObject RawEvent           `json:"rawMsgObject"`

	StoredAt time.Time `json:"storedAt,omitempty"`
}
