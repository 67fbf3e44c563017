package domain

import "encoding/json"

// Envelope is one addressed application message. Content is opaque and
// forwarded unchanged; Nonce is used for duplicate suppression only.
type Envelope struct {
	From      Address
	To        Address
	Content   json.RawMessage
	Timestamp int64
	Nonce     string
}

type DeliveryOutcome string

const (
	Delivered DeliveryOutcome = "delivered"
	Offline   DeliveryOutcome = "offline"
	Duplicate DeliveryOutcome = "duplicate"
	// Dropped means the peer is online but its outbound queue is full.
	Dropped DeliveryOutcome = "dropped"
)
