package models

// Insight is a remote content item mirrored locally for offline display
type Insight struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// InsightsResult is what callers of a refresh get back. It never carries a Go
// error; Error holds the failure text when the remote call did not succeed.
type InsightsResult struct {
	Insights     []Insight `json:"insights"`
	UsedFallback bool      `json:"usedFallback"`
	Error        string    `json:"error,omitempty"`
}
