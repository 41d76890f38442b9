// internal/model/message.go
package model

import (
	"time"
)

// Recipient is one target of a broadcast. Text overrides the request's
// shared message when set.
type Recipient struct {
	Number string `json:"number"`
	Text   string `json:"text,omitempty"`
}

// BroadcastRequest is what the API and the AMQP intake accept.
type BroadcastRequest struct {
	JobID      string      `json:"job_id,omitempty"`
	Message    string      `json:"message"`
	Recipients []Recipient `json:"recipients"`
}

// SendResult is the provider's acknowledgement of one message.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

const EventBroadcastCompleted = "broadcast.completed"

// BroadcastEvent is published when a job settles.
type BroadcastEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	TenantID  string    `json:"tenant_id"`
	Total     int       `json:"total"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	Errors    []string  `json:"errors"`
	At        time.Time `json:"at"`
}
