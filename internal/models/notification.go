package models

// NotificationAction is a button attached to a notification
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what gets shown to the user
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Data    string               `json:"data,omitempty"`
	Vibrate []int                `json:"vibrate,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
	Tag     string               `json:"tag,omitempty"`
}

// PushPayload is the optional JSON body of a push message
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// ClickOutcome describes what a notification click ended up doing
type ClickOutcome struct {
	Action   string `json:"action"`
	WindowID string `json:"windowId,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Click outcome actions
const (
	ClickDismissed = "dismissed"
	ClickFocused   = "focused"
	ClickOpened    = "opened"
	// ClickOpenRequested means no window could be launched here and the
	// caller should open URL itself
	ClickOpenRequested = "open_requested"
)

// Window is an open application window connected to the daemon
type Window struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Focused     bool   `json:"focused"`
	ConnectedAt string `json:"connectedAt"`
}
