package bus

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Envelope is the wire format for every domain event on the bus.
type Envelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Service   string          `json:"service"`
}

// NewEnvelope wraps a payload for publication. The payload must be
// JSON-marshalable.
func NewEnvelope(eventType, service string, data any) (Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now().UTC(),
		Service:   service,
	}, nil
}

// RoutingKey returns the topic routing key for a domain event type.
func RoutingKey(eventType string) string {
	return "event." + eventType
}

// maskURL strips credentials from a broker URL for logging.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		// Not parseable; never log something that might carry a password.
		if i := strings.LastIndex(raw, "@"); i >= 0 {
			return "***" + raw[i:]
		}
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}

// truncate caps a payload for logging.
func truncate(b []byte, max int) string {
	if max <= 0 || len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
