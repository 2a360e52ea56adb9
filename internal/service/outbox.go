package service

import (
	"context"
	"sync/atomic"
	"time"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/metrics"
	"offlinekit/internal/models"
	"offlinekit/internal/privacy"
	"offlinekit/internal/tracing"
	"offlinekit/internal/validation"
	"offlinekit/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Sender delivers one contact form submission
type Sender interface {
	Send(ctx context.Context, fields map[string]string) error
}

// OutboxStore is the part of the local store the outbox needs
type OutboxStore interface {
	AppendPendingMessage(ctx context.Context, msg models.PendingMessage) (int64, error)
	ListPendingMessages(ctx context.Context) ([]models.PendingMessage, error)
	ClearPendingMessages(ctx context.Context) error
}

// NoticeSink publishes status notices to open windows
type NoticeSink interface {
	Publish(ctx context.Context, notice models.Notice)
}

// SubmitStatus says what happened to a form submission
type SubmitStatus string

const (
	SubmitSent   SubmitStatus = "sent"
	SubmitQueued SubmitStatus = "queued"
)

// SubmitResult is returned for every accepted submission
type SubmitResult struct {
	Status   SubmitStatus  `json:"status"`
	ClientID string        `json:"clientId,omitempty"`
	RecordID int64         `json:"recordId,omitempty"`
	Notice   models.Notice `json:"notice"`
}

// DrainStatus says how a drain ended
type DrainStatus string

const (
	DrainCompleted DrainStatus = "drained"
	DrainSkipped   DrainStatus = "skipped"
	DrainFailed    DrainStatus = "failed"
)

// Reasons a drain was skipped
const (
	SkipOffline       = "offline"
	SkipEmpty         = "empty"
	SkipInProgress    = "in_progress"
	SkipAlreadyOnline = "already_online"
)

// DrainResult reports the outcome of one drain
type DrainResult struct {
	Status    DrainStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Sent      int         `json:"sent"`
	Remaining int         `json:"remaining"`
}

// Outbox queues contact form submissions that could not be delivered and
// replays them, in order, once the daemon is back online
type Outbox struct {
	store   OutboxStore
	sender  Sender
	notices NoticeSink
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger

	online  atomic.Bool
	syncing atomic.Bool
}

// OutboxOption configures an Outbox
type OutboxOption func(*Outbox)

// WithSendBreaker guards every delivery with cb
func WithSendBreaker(cb *circuitbreaker.CircuitBreaker) OutboxOption {
	return func(o *Outbox) { o.breaker = cb }
}

// WithNoticeSink sets where user notices are published
func WithNoticeSink(sink NoticeSink) OutboxOption {
	return func(o *Outbox) { o.notices = sink }
}

// WithInitialOnline sets the connectivity state assumed at start
func WithInitialOnline(online bool) OutboxOption {
	return func(o *Outbox) { o.online.Store(online) }
}

// NewOutbox creates an outbox. It assumes the daemon starts online.
func NewOutbox(store OutboxStore, sender Sender, logger *logrus.Logger, opts ...OutboxOption) *Outbox {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := &Outbox{store: store, sender: sender, logger: logger}
	o.online.Store(true)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Online reports the last known connectivity state
func (o *Outbox) Online() bool { return o.online.Load() }

// Syncing reports whether a drain is in progress
func (o *Outbox) Syncing() bool { return o.syncing.Load() }

// Submit validates fields and tries to deliver them once. When delivery
// fails the submission is queued and a "saved for later" notice is returned
// instead of an error. Only invalid input and store failures are errors.
func (o *Outbox) Submit(ctx context.Context, fields map[string]string) (SubmitResult, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.submit")
	defer span.End()

	if err := validation.ValidateContactForm(fields); err != nil {
		metrics.IncrementCounter(metrics.OutboxSubmissionsTotal, map[string]string{"result": "invalid"}, "Contact form submissions")
		return SubmitResult{}, err
	}

	sendErr := o.send(ctx, fields)
	if sendErr == nil {
		metrics.IncrementCounter(metrics.OutboxSubmissionsTotal, map[string]string{"result": "sent"}, "Contact form submissions")
		LogFormSubmission(ctx, o.logger, "", fields, "Contact form delivered")
		notice := models.Notice{Kind: models.NoticeSent, Title: constants.OutboxSentNotice, Detail: constants.OutboxSentDetail}
		o.publish(ctx, notice)
		return SubmitResult{Status: SubmitSent, Notice: notice}, nil
	}

	msg := models.PendingMessage{
		ClientID: models.NewClientID(),
		Fields:   copyFields(fields),
	}
	id, err := o.store.AppendPendingMessage(ctx, msg)
	if err != nil {
		tracing.RecordError(ctx, err)
		apperrors.WrapLogger(o.logger).LogError(err, "Failed to queue contact form", logrus.Fields{
			LogFieldClientID: privacy.MaskClientID(msg.ClientID),
		})
		return SubmitResult{}, err
	}

	metrics.IncrementCounter(metrics.OutboxSubmissionsTotal, map[string]string{"result": "queued"}, "Contact form submissions")
	apperrors.WrapLogger(o.logger).LogWarn(apperrors.NewDeliveryFailedError(msg.ClientID, sendErr), "Delivery failed, message kept for later", logrus.Fields{
		LogFieldRecordID: id,
	})
	o.refreshPendingGauge(ctx)

	notice := models.Notice{Kind: models.NoticeSaved, Title: constants.OutboxSavedNotice, Detail: constants.OutboxSavedDetail}
	o.publish(ctx, notice)
	return SubmitResult{Status: SubmitQueued, ClientID: msg.ClientID, RecordID: id, Notice: notice}, nil
}

// Start runs the drain due at application start
func (o *Outbox) Start(ctx context.Context) (DrainResult, error) {
	o.logger.Debug("Starting outbox")
	return o.Drain(ctx)
}

// SetOnline records a connectivity report. Only an offline to online
// transition triggers a drain; the drain's outcome is returned when it ran.
func (o *Outbox) SetOnline(ctx context.Context, online bool) (DrainResult, error) {
	was := o.online.Swap(online)
	if !online || was {
		return DrainResult{Status: DrainSkipped, Reason: transitionReason(online)}, nil
	}

	o.logger.WithField(LogFieldOnline, true).Info("Connectivity restored, draining outbox")
	return o.Drain(ctx)
}

func transitionReason(online bool) string {
	if !online {
		return SkipOffline
	}
	return SkipAlreadyOnline
}

// Drain delivers every queued message in insertion order. It stops at the
// first failure and leaves the queue untouched; the queue is cleared only
// after every message was delivered.
func (o *Outbox) Drain(ctx context.Context) (DrainResult, error) {
	if !o.online.Load() {
		o.logger.Debug("Skipping outbox drain: offline")
		return o.skipped(SkipOffline), nil
	}
	if !o.syncing.CompareAndSwap(false, true) {
		o.logger.Debug("Skipping outbox drain: already in progress")
		return o.skipped(SkipInProgress), nil
	}
	defer o.syncing.Store(false)

	ctx, span := tracing.StartSpan(ctx, "outbox.drain")
	defer span.End()
	start := time.Now()

	pending, err := o.store.ListPendingMessages(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		apperrors.WrapLogger(o.logger).LogError(err, "Failed to read outbox")
		return DrainResult{Status: DrainFailed}, err
	}
	if len(pending) == 0 {
		o.logger.Debug("Skipping outbox drain: empty")
		return o.skipped(SkipEmpty), nil
	}
	tracing.AddSpanAttributes(ctx, attribute.Int("offlinekit.pending", len(pending)))

	for i, msg := range pending {
		if err := o.send(ctx, msg.Fields); err != nil {
			deliveryErr := apperrors.NewDeliveryFailedError(msg.ClientID, err)
			tracing.RecordError(ctx, deliveryErr)
			apperrors.WrapLogger(o.logger).LogWarn(deliveryErr, "Delivery failed, message kept for later", logrus.Fields{
				LogFieldPending: len(pending),
				LogFieldCount:   i,
			})
			o.recordDrain(DrainFailed, start)
			return DrainResult{Status: DrainFailed, Sent: i, Remaining: len(pending)}, deliveryErr
		}
	}

	if err := o.store.ClearPendingMessages(ctx); err != nil {
		tracing.RecordError(ctx, err)
		apperrors.WrapLogger(o.logger).LogError(err, "Failed to clear outbox after delivery", logrus.Fields{
			LogFieldCount: len(pending),
		})
		o.recordDrain(DrainFailed, start)
		return DrainResult{Status: DrainFailed, Sent: len(pending), Remaining: len(pending)}, err
	}

	o.recordDrain(DrainCompleted, start)
	metrics.SetGauge(metrics.OutboxPending, 0, nil, "Messages waiting in the outbox")
	o.logger.WithFields(logrus.Fields{
		LogFieldCount:    len(pending),
		LogFieldDuration: time.Since(start).Milliseconds(),
	}).Info("Outbox drained")

	o.publish(ctx, models.Notice{Kind: models.NoticeSynced, Title: constants.OutboxSyncedNotice, Detail: constants.OutboxSyncedDetail})
	return DrainResult{Status: DrainCompleted, Sent: len(pending)}, nil
}

func (o *Outbox) send(ctx context.Context, fields map[string]string) error {
	if o.breaker == nil {
		return o.sender.Send(ctx, fields)
	}
	return o.breaker.Execute(ctx, func(ctx context.Context) error {
		return o.sender.Send(ctx, fields)
	})
}

func (o *Outbox) skipped(reason string) DrainResult {
	metrics.IncrementCounter(metrics.OutboxDrainsTotal, map[string]string{"status": string(DrainSkipped), "reason": reason}, "Outbox drains")
	return DrainResult{Status: DrainSkipped, Reason: reason}
}

func (o *Outbox) recordDrain(status DrainStatus, start time.Time) {
	labels := map[string]string{"status": string(status)}
	metrics.IncrementCounter(metrics.OutboxDrainsTotal, labels, "Outbox drains")
	metrics.RecordTimer(metrics.OutboxDrainDuration, time.Since(start), labels, "Outbox drain duration")
}

type pendingCounter interface {
	CountPendingMessages(ctx context.Context) (int, error)
}

func (o *Outbox) refreshPendingGauge(ctx context.Context) {
	counter, ok := o.store.(pendingCounter)
	if !ok {
		return
	}
	n, err := counter.CountPendingMessages(ctx)
	if err != nil {
		return
	}
	metrics.SetGauge(metrics.OutboxPending, float64(n), nil, "Messages waiting in the outbox")
}

func (o *Outbox) publish(ctx context.Context, notice models.Notice) {
	if o.notices != nil {
		o.notices.Publish(ctx, notice)
	}
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
