package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"offlinekit/internal/constants"
	"offlinekit/internal/httputil"
	"offlinekit/internal/metrics"
	"offlinekit/internal/models"
	"offlinekit/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Notifier displays and dismisses notifications
type Notifier interface {
	Show(ctx context.Context, n models.Notification) (int, error)
	Close(ctx context.Context, n models.Notification) error
}

// ErrNoOpener is returned by WindowClients.OpenWindow when the daemon has no
// way to launch a window itself
var ErrNoOpener = errors.New("no window opener configured")

// WindowClients gives access to the open application windows
type WindowClients interface {
	MatchAll(ctx context.Context) []models.Window
	Focus(ctx context.Context, windowID string) error
	OpenWindow(ctx context.Context, url string) error
}

// Relay turns push messages, clicks and local triggers into notifications
// and window actions
type Relay struct {
	appOrigin string
	notifier  Notifier
	clients   WindowClients
	logger    *logrus.Logger
}

// NewRelay creates a relay. appOrigin is the origin windows load the
// application from.
func NewRelay(appOrigin string, notifier Notifier, clients WindowClients, logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{
		appOrigin: strings.TrimRight(appOrigin, "/"),
		notifier:  notifier,
		clients:   clients,
		logger:    logger,
	}
}

// BuildPushNotification renders a push payload. An empty or unreadable
// payload produces the generic announcement.
func BuildPushNotification(data []byte) models.Notification {
	payload := models.PushPayload{
		Title: constants.DefaultNotificationTitle,
		Body:  constants.DefaultPushFallbackBody,
	}
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" && trimmed != "null" {
		var parsed models.PushPayload
		if err := json.Unmarshal(data, &parsed); err == nil {
			payload = parsed
		}
	}

	title := payload.Title
	if title == "" {
		title = constants.DefaultNotificationTitle
	}
	body := payload.Body
	if body == "" {
		body = constants.DefaultPushBody
	}
	target := payload.URL
	if target == "" {
		target = constants.DefaultNotificationURL
	}

	return models.Notification{
		Title: title,
		Body:  body,
		Icon:  constants.DefaultNotificationIcon,
		Badge: constants.DefaultNotificationBadge,
		Data:  target,
		Actions: []models.NotificationAction{
			{Action: constants.NotificationActionOpen, Title: constants.NotificationActionOpenTitle},
			{Action: constants.NotificationActionDismiss, Title: constants.NotificationActionDismissText},
		},
	}
}

// BuildLocalNotification renders a notification triggered from a window
func BuildLocalNotification(title, body string) models.Notification {
	if title == "" {
		title = constants.DefaultNotificationTitle
	}
	if body == "" {
		body = constants.DefaultLocalNotificationBody
	}
	vibrate := make([]int, len(constants.DefaultLocalVibratePattern))
	copy(vibrate, constants.DefaultLocalVibratePattern)

	return models.Notification{
		Title:   title,
		Body:    body,
		Icon:    constants.DefaultNotificationIcon,
		Vibrate: vibrate,
	}
}

// HandlePush shows the notification for a push message
func (r *Relay) HandlePush(ctx context.Context, data []byte) (models.Notification, error) {
	n := BuildPushNotification(data)
	if err := r.show(ctx, n, "push"); err != nil {
		return n, err
	}
	return n, nil
}

// ShowLocal shows a notification requested by a window
func (r *Relay) ShowLocal(ctx context.Context, title, body string) (models.Notification, error) {
	n := BuildLocalNotification(title, body)
	if err := r.show(ctx, n, "local"); err != nil {
		return n, err
	}
	return n, nil
}

func (r *Relay) show(ctx context.Context, n models.Notification, kind string) error {
	delivered, err := r.notifier.Show(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to show %s notification: %w", kind, err)
	}
	metrics.IncrementCounter(metrics.NotificationsShownTotal, map[string]string{"kind": kind}, "Notifications shown")
	r.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"title":     n.Title,
		"delivered": delivered,
	}).Info("Notification shown")
	return nil
}

// HandleClick closes the notification and, unless it was dismissed, focuses
// the first window already on the application or opens a new one at the
// notification's target. Without an opener the resolved target is returned
// for the caller to open.
func (r *Relay) HandleClick(ctx context.Context, action string, n models.Notification) (models.ClickOutcome, error) {
	if err := r.notifier.Close(ctx, n); err != nil {
		r.logger.WithError(err).Debug("Failed to close notification")
	}

	if action == constants.NotificationActionDismiss {
		r.recordClick(models.ClickDismissed)
		return models.ClickOutcome{Action: models.ClickDismissed}, nil
	}

	target := n.Data
	if target == "" {
		target = constants.DefaultNotificationURL
	}

	for _, w := range r.clients.MatchAll(ctx) {
		u, err := url.Parse(w.URL)
		if err != nil || !httputil.SameOrigin(u, r.appOrigin) {
			continue
		}
		if err := r.clients.Focus(ctx, w.ID); err != nil {
			r.logger.WithError(err).WithField("window_id", privacy.MaskClientID(w.ID)).Debug("Failed to focus window")
			continue
		}
		r.recordClick(models.ClickFocused)
		return models.ClickOutcome{Action: models.ClickFocused, WindowID: w.ID, URL: w.URL}, nil
	}

	resolved, err := r.resolve(target)
	if err != nil {
		return models.ClickOutcome{}, err
	}
	if err := r.clients.OpenWindow(ctx, resolved); err != nil {
		if errors.Is(err, ErrNoOpener) {
			// The caller opens the target itself
			r.logger.WithField("url", privacy.MaskURLQuery(resolved)).Debug("No window opener, handing the target back")
			r.recordClick(models.ClickOpenRequested)
			return models.ClickOutcome{Action: models.ClickOpenRequested, URL: resolved}, nil
		}
		return models.ClickOutcome{}, fmt.Errorf("failed to open %s: %w", privacy.MaskURLQuery(resolved), err)
	}
	r.recordClick(models.ClickOpened)
	return models.ClickOutcome{Action: models.ClickOpened, URL: resolved}, nil
}

func (r *Relay) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid notification target %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(r.appOrigin + "/")
	if err != nil {
		return "", fmt.Errorf("invalid application origin %q: %w", r.appOrigin, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (r *Relay) recordClick(outcome string) {
	metrics.IncrementCounter(metrics.NotificationClicksTotal, map[string]string{"outcome": outcome}, "Notification clicks")
}
