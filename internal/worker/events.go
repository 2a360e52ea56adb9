package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
)

// Message types accepted from windows
const (
	MessageSkipWaiting       = "SKIP_WAITING"
	MessageTriggerLocalNotif = "TRIGGER_LOCAL_NOTIFICATION"
)

// EventKind names an event variant
type EventKind string

const (
	KindInstall           EventKind = "install"
	KindActivate          EventKind = "activate"
	KindFetch             EventKind = "fetch"
	KindPush              EventKind = "push"
	KindNotificationClick EventKind = "notificationclick"
	KindMessage           EventKind = "message"
)

// Event is anything the worker reacts to
type Event interface {
	Kind() EventKind
}

// InstallEvent starts a new generation
type InstallEvent struct {
	Config Config
}

// ActivateEvent promotes the waiting generation
type ActivateEvent struct{}

// FetchEvent carries an intercepted request
type FetchEvent struct {
	Request *http.Request
}

// PushEvent carries a raw push payload, which may be empty or malformed
type PushEvent struct {
	Data []byte
}

// NotificationClickEvent is a click on a shown notification
type NotificationClickEvent struct {
	Action       string              `json:"action"`
	Notification models.Notification `json:"notification"`
}

// MessageEvent is a message posted by a window
type MessageEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (InstallEvent) Kind() EventKind           { return KindInstall }
func (ActivateEvent) Kind() EventKind          { return KindActivate }
func (FetchEvent) Kind() EventKind             { return KindFetch }
func (PushEvent) Kind() EventKind              { return KindPush }
func (NotificationClickEvent) Kind() EventKind { return KindNotificationClick }
func (MessageEvent) Kind() EventKind           { return KindMessage }

// LocalNotificationPayload is the payload of TRIGGER_LOCAL_NOTIFICATION
type LocalNotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Relay shows notifications and reacts to clicks on them
type Relay interface {
	HandlePush(ctx context.Context, data []byte) (models.Notification, error)
	HandleClick(ctx context.Context, action string, n models.Notification) (models.ClickOutcome, error)
	ShowLocal(ctx context.Context, title, body string) (models.Notification, error)
}

// Result is what a dispatched event produced. Only the fields relevant to
// the event kind are set.
type Result struct {
	Kind         EventKind
	Worker       *Worker
	Activated    bool
	Response     *http.Response
	Source       Source
	Notification *models.Notification
	Click        *models.ClickOutcome
}

// Dispatcher routes events to the registration or the notification relay
type Dispatcher struct {
	registration *Registration
	relay        Relay
	logger       *logrus.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(registration *Registration, relay Relay, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{registration: registration, relay: relay, logger: logger}
}

// Dispatch handles ev and reports the outcome
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	result := Result{Kind: ev.Kind()}

	switch e := ev.(type) {
	case InstallEvent:
		w, err := d.registration.Register(ctx, e.Config)
		result.Worker = w
		if err != nil {
			return result, err
		}
		result.Activated = w.State() == StateActivated
		return result, nil

	case ActivateEvent:
		activated, err := d.registration.SkipWaiting(ctx)
		result.Activated = activated
		result.Worker = d.registration.Active()
		return result, err

	case FetchEvent:
		if e.Request == nil {
			return result, apperrors.New(apperrors.ErrCodeInvalidInput, "fetch event without request")
		}
		resp, source, err := d.registration.Handle(ctx, e.Request)
		result.Response = resp
		result.Source = source
		return result, err

	case PushEvent:
		if d.relay == nil {
			return result, apperrors.New(apperrors.ErrCodeInternalError, "no notification relay configured")
		}
		n, err := d.relay.HandlePush(ctx, e.Data)
		if err != nil {
			return result, err
		}
		result.Notification = &n
		return result, nil

	case NotificationClickEvent:
		if d.relay == nil {
			return result, apperrors.New(apperrors.ErrCodeInternalError, "no notification relay configured")
		}
		outcome, err := d.relay.HandleClick(ctx, e.Action, e.Notification)
		if err != nil {
			return result, err
		}
		result.Click = &outcome
		return result, nil

	case MessageEvent:
		return d.dispatchMessage(ctx, e, result)

	default:
		return result, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("unsupported event kind %q", ev.Kind()))
	}
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, e MessageEvent, result Result) (Result, error) {
	switch e.Type {
	case MessageSkipWaiting:
		activated, err := d.registration.SkipWaiting(ctx)
		result.Activated = activated
		result.Worker = d.registration.Active()
		if err == nil {
			d.logger.WithField("activated", activated).Debug("Handled SKIP_WAITING")
		}
		return result, err

	case MessageTriggerLocalNotif:
		if d.relay == nil {
			return result, apperrors.New(apperrors.ErrCodeInternalError, "no notification relay configured")
		}
		var payload LocalNotificationPayload
		if len(e.Payload) > 0 && string(e.Payload) != "null" {
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return result, apperrors.NewValidationError("payload", "must be an object with title and body")
			}
		}
		n, err := d.relay.ShowLocal(ctx, payload.Title, payload.Body)
		if err != nil {
			return result, err
		}
		result.Notification = &n
		return result, nil

	default:
		return result, apperrors.NewValidationError("type", fmt.Sprintf("unknown message type %q", e.Type))
	}
}
