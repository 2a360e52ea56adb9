package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/metrics"
	"offlinekit/internal/middleware"
	"offlinekit/internal/models"
	"offlinekit/internal/privacy"
	"offlinekit/internal/service"
	"offlinekit/internal/tracing"
	"offlinekit/internal/worker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	cfg    models.ServerConfig
	app    *application
	server *http.Server
}

func NewServer(cfg models.ServerConfig, app *application, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		cfg:    cfg,
		app:    app,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DebugLoggingMiddleware(s.logger, middleware.DefaultDebugLoggingConfig()))
	}

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Worker event boundaries
	sw := s.router.PathPrefix("/_sw").Subrouter()
	sw.Handle("/push", s.boundary("push", s.handlePush())).Methods(http.MethodPost)
	sw.Handle("/notificationclick", s.boundary("notificationclick", s.handleNotificationClick())).Methods(http.MethodPost)
	sw.Handle("/message", s.boundary("message", s.handleMessage())).Methods(http.MethodPost)
	sw.Handle("/clients", s.app.hub).Methods(http.MethodGet)

	// Application endpoints
	appRoutes := s.router.PathPrefix("/_app").Subrouter()
	appRoutes.HandleFunc("/contact", s.handleContact()).Methods(http.MethodPost)
	appRoutes.HandleFunc("/insights", s.handleInsights()).Methods(http.MethodGet)
	appRoutes.HandleFunc("/connectivity", s.handleConnectivity()).Methods(http.MethodPost)

	// Everything else is the intercepted site
	s.router.PathPrefix("/").Handler(s.siteProxy())
}

func (s *Server) boundary(event string, h http.HandlerFunc) http.Handler {
	return middleware.BoundaryObservabilityMiddleware(s.logger, event)(h)
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("addr", addr).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// siteProxy forwards origin relative requests to the configured origin and
// absolute URI requests to their own host, both through the active worker
func (s *Server) siteProxy() http.Handler {
	// The origin was validated when the worker config was built
	target, _ := url.Parse(s.app.workerConfig.Origin())

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				pr.Out.Host = pr.In.URL.Host
				return
			}
			pr.SetURL(target)
		},
		Transport: s.app.registration,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldURL:       privacy.MaskURLQuery(r.URL.String()),
			}).WithError(err).Warn("No response available for intercepted request")
			s.writeError(w, r, err)
		},
	}
}

// Handler implementations
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":  "ok",
			"online":  s.app.outbox.Online(),
			"syncing": s.app.outbox.Syncing(),
			"windows": s.app.hub.Count(),
		}

		if err := s.app.db.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		} else if pending, err := s.app.db.CountPendingMessages(r.Context()); err == nil {
			body["pending"] = pending
		}

		workerInfo := map[string]interface{}{"waiting": s.app.registration.Waiting() != nil}
		if active := s.app.registration.Active(); active != nil {
			workerInfo["version"] = active.Config().Version()
			workerInfo["state"] = active.State()
		}
		body["worker"] = workerInfo

		s.writeJSON(w, status, body)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		s.writeJSON(w, http.StatusOK, metrics.GetSnapshot())
	}
}

func (s *Server) handlePush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes))
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "push payload too large or unreadable"))
			return
		}

		result, err := s.app.dispatcher.Dispatch(r.Context(), worker.PushEvent{Data: data})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, eventResponseFrom(result))
	}
}

// clickRequest accepts either a bare {action, data} or the full notification
type clickRequest struct {
	Action       string               `json:"action"`
	Data         string               `json:"data"`
	Notification *models.Notification `json:"notification"`
}

func (s *Server) handleNotificationClick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clickRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		var n models.Notification
		if req.Notification != nil {
			n = *req.Notification
		}
		if n.Data == "" {
			n.Data = req.Data
		}

		result, err := s.app.dispatcher.Dispatch(r.Context(), worker.NotificationClickEvent{Action: req.Action, Notification: n})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, eventResponseFrom(result))
	}
}

func (s *Server) handleMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg worker.MessageEvent
		if err := s.decodeJSON(w, r, &msg); err != nil {
			s.writeError(w, r, err)
			return
		}
		if msg.Type == "" {
			s.writeError(w, r, apperrors.NewValidationError("type", "message type is required"))
			return
		}

		result, err := s.app.dispatcher.Dispatch(r.Context(), msg)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, eventResponseFrom(result))
	}
}

func (s *Server) handleContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, err := s.decodeForm(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.app.outbox.Submit(r.Context(), fields)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		status := http.StatusOK
		if result.Status == service.SubmitQueued {
			status = http.StatusAccepted
		}
		s.writeJSON(w, status, result)
	}
}

func (s *Server) handleInsights() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		s.writeJSON(w, http.StatusOK, s.app.insights.Refresh(r.Context()))
	}
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleConnectivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectivityRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Online == nil {
			s.writeError(w, r, apperrors.NewValidationError("online", "online must be true or false"))
			return
		}

		changed := s.app.connectivity.Report(r.Context(), *req.Online)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"online":  s.app.connectivity.Online(),
			"changed": changed,
			"syncing": s.app.outbox.Syncing(),
		})
	}
}

// eventResponse is the JSON answer of the worker event boundaries
type eventResponse struct {
	Kind         worker.EventKind     `json:"kind"`
	Activated    bool                 `json:"activated,omitempty"`
	Version      string               `json:"version,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	Click        *models.ClickOutcome `json:"click,omitempty"`
}

func eventResponseFrom(result worker.Result) eventResponse {
	resp := eventResponse{
		Kind:         result.Kind,
		Activated:    result.Activated,
		Notification: result.Notification,
		Click:        result.Click,
	}
	if result.Worker != nil {
		resp.Version = result.Worker.Config().Version()
	}
	return resp
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes))
	if err := decoder.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "request body must be valid JSON").
			WithUserMessage("The request body is not valid JSON.")
	}
	return nil
}

// decodeForm reads a contact form sent either as JSON or url encoded
func (s *Server) decodeForm(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid form body")
		}
		fields := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			fields[key] = r.PostForm.Get(key)
		}
		return fields, nil
	}

	var fields map[string]string
	if err := s.decodeJSON(w, r, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status = http.StatusRequestEntityTooLarge
	}
	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
