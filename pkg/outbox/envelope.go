package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who caused the event, either a customer request or an
// internal process such as the expiry scheduler.
type ActorRef struct {
	CustomerID string `json:"customerId,omitempty"`
	System     string `json:"system,omitempty"`
}

// PayloadEnvelope is the wire shape stored in outbox_events.payload and
// published verbatim. Consumers unwrap Data after checking the event type
// message attribute.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
