package models

// PendingMessage is a contact form submission that could not be delivered and
// waits in the outbox for the next drain. Entries are never mutated.
type PendingMessage struct {
	ID        int64             `json:"id"`
	ClientID  string            `json:"clientId"`
	Fields    map[string]string `json:"fields"`
	CreatedAt string            `json:"createdAt"`
}

// Contact form field names
const (
	FieldEmail   = "email"
	FieldName    = "name"
	FieldNumber  = "number"
	FieldMessage = "message"
)
