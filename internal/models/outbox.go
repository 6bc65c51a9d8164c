package models

import "time"

// ConversationKind distinguishes direct chats from group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// OutboxStatus is the delivery state of a queued message.
type OutboxStatus string

const (
	// StatusPending entries are eligible for the next drain pass.
	StatusPending OutboxStatus = "pending"
	// StatusDead entries exceeded their retry budget or were rejected
	// permanently; they are held for user inspection, never retried
	// automatically.
	StatusDead OutboxStatus = "dead"
)

// QueuedMessage is a locally persisted outgoing message awaiting delivery.
// Seq is assigned by the local store and defines enqueue order; ID is the
// locally generated identifier, not the eventual server-assigned message id.
type QueuedMessage struct {
	Seq           int64            `db:"seq" json:"-"`
	ID            string           `db:"id" json:"id"`
	Kind          ConversationKind `db:"kind" json:"kind"`
	TargetID      string           `db:"target_id" json:"target_id"`
	Body          string           `db:"body" json:"body"`
	AttachmentRef string           `db:"attachment_ref" json:"attachment_ref,omitempty"`
	Status        OutboxStatus     `db:"status" json:"status"`
	Attempts      int              `db:"attempts" json:"attempts"`
	LastError     string           `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt    time.Time        `db:"enqueued_at" json:"enqueued_at"`
	NextAttemptAt time.Time        `db:"next_attempt_at" json:"next_attempt_at"`
}

// Target identifies a delivery lane. Ordering is guaranteed within a target,
// never across targets.
type Target struct {
	Kind ConversationKind
	ID   string
}

// Target returns the message's delivery lane.
func (m QueuedMessage) Target() Target {
	return Target{Kind: m.Kind, ID: m.TargetID}
}

// OutboxEvent is broadcast to connected client surfaces over the hub.
type OutboxEvent struct {
	Type      string         `json:"type"` // queued, delivered, dead, requeued, cleared
	Message   *QueuedMessage `json:"message,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
}
