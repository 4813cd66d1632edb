package event

import "time"

// Event is the canonical stored record. Once appended it is never modified.
type Event struct {
	ID         int64      `json:"id"`
	ReceivedAt time.Time  `json:"received_at"`
	OccurredAt time.Time  `json:"occurred_at"`
	Source     string     `json:"source"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Receipt is returned to a producer after a successful append.
type Receipt struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}
