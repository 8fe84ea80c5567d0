// Package realtime owns the persistent connection to the remote service:
// connect/reconnect with backoff, heartbeat liveness, outbound queueing while
// disconnected, and typed dispatch of inbound domain events.
package realtime

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame exchanged on the connection.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Wire event names.
const (
	eventSubscribe       = "subscribe_vault"
	eventUnsubscribe     = "unsubscribe_vault"
	eventPing            = "ping"
	eventPong            = "pong"
	eventSubscriptionAck = "subscription_ack"
	eventFileChanged     = "file_changed"
	eventConflictRaised  = "conflict_raised"
	eventPresenceChanged = "presence_changed"
)

// FileChanged reports a remote file mutation on the subscribed vault.
type FileChanged struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConflictRaised reports a conflict detected by another device or the server.
type ConflictRaised struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// PresenceChanged reports a collaborator joining or leaving the vault.
type PresenceChanged struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type subscriptionAck struct {
	Channel string `json:"channel"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

// Subscriber receives the domain events the manager dispatches. Liveness and
// subscription frames are handled internally and never reach subscribers.
type Subscriber interface {
	OnFileChanged(event FileChanged)
	OnConflictRaised(event ConflictRaised)
	OnPresenceChanged(event PresenceChanged)
}

func newEnvelope(event string, payload any) (*Envelope, error) {
	env := &Envelope{Event: event, Timestamp: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}
