package models

// Notice is a short status message surfaced to open windows
type Notice struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Notice kinds
const (
	NoticeSent   = "sent"
	NoticeSaved  = "saved"
	NoticeSynced = "synced"
)
