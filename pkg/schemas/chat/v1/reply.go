package chat

type ReplyStatus string

const (
	ReplyStored    ReplyStatus = "stored"
	ReplyDuplicate ReplyStatus = "duplicate"
	ReplyFailed    ReplyStatus = "failed"
)

// Reply is the worker's verdict on a request-style message.
type Reply struct {
	CorrelationID string      `json:"correlationId"`
	RecordID      string      `json:"recordId,omitempty"`
	Status        ReplyStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
}

func (r *Reply) Validate() error {
	ve := &ValidationError{}
	if r.CorrelationID == "" {
		ve.add("correlationId", "required")
	}
	switch r.Status {
	case ReplyStored, ReplyDuplicate:
		if r.RecordID == "" {
			ve.add("recordId", "required for "+string(r.Status))
		}
		if r.Error != "" {
			ve.add("error", "must be empty for "+string(r.Status))
		}
	case ReplyFailed:
		if r.Error == "" {
			ve.add("error", "required for failed")
		}
	default:
		ve.add("status", "unknown")
	}
	return ve.orNil()
}
