package models

import "time"

// Notification kinds carried by lease lifecycle events. The event schema is
// validated upstream; by the time an event reaches this pipeline the kind is
// one of these values.
const (
	KindLeaseRequested    = "LeaseRequested"
	KindLeaseApproved     = "LeaseApproved"
	KindLeaseDenied       = "LeaseDenied"
	KindLeaseExpiringSoon = "LeaseExpiringSoon"
	KindLeaseFrozen       = "LeaseFrozen"
	KindLeaseTerminated   = "LeaseTerminated"
)

// LeaseEvent is the inbound envelope for a sandbox lease lifecycle event.
// OwnerEmail is the *claimed* recipient; nothing is sent until the
// verification stage has cross-checked it against the lease record.
type LeaseEvent struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	OwnerEmail string                 `json:"owner_email"`
	LeaseID    string                 `json:"lease_id"`
	AccountID  string                 `json:"account_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID      string            `json:"trace_id,omitempty"`
	Verification *VerificationInfo `json:"verification,omitempty"`
}

// VerificationInfo is stamped onto the outbound message after the ownership
// chain has passed. ChainID links back to the persisted audit record.
type VerificationInfo struct {
	VerifiedAt time.Time `json:"verified_at"`
	ChainID    string    `json:"chain_id"`
}

// NotificationMessage is the handoff to the downstream delivery client: the
// remote template to render and the personalisation values to fill it with.
// Delivery retries are the consumer's concern.
type NotificationMessage struct {
	ID              string            `json:"id"`
	EventID         string            `json:"event_id"`
	Kind            string            `json:"kind"`
	TemplateID      string            `json:"template_id"`
	Personalization map[string]string `json:"personalization"`
	Metadata        Metadata          `json:"metadata"`
}
