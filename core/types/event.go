package types

// Event is a structured record of a state change applied by the ledger.
// Attribute values are strings so payloads stay stable for logs and RPC
// consumers.
type Event struct {
	Type       string
	Attributes map[string]string
}
