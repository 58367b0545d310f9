package notifier

import (
	"time"

	"github.com/google/uuid"
)

// Type represents the notification type/severity.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Notification is the core domain model for operator and owner alerts.
type Notification struct {
	ID          uuid.UUID      `json:"id"`
	RecipientID uuid.UUID      `json:"recipient_id"`
	Type        Type           `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SendArgs is the job payload for asynchronous delivery.
type SendArgs struct {
	Notification Notification `json:"notification"`
}

// JobKindSend is the queue kind under which the service registers itself.
const JobKindSend = "notifier.send"
