package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"

	"newsletter/internal/platform/metrics"
	"newsletter/internal/platform/middleware"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/httputil"
	"newsletter/pkg/platform/middleware/metadata"
	"newsletter/pkg/platform/middleware/requesttime"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the subscription workflow as seen by the HTTP layer.
type Service interface {
	Create(ctx context.Context, name, email string) error
	Confirm(ctx context.Context, subscriptionToken string) error
}

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 64 << 10
)

// Handler serves the subscribe and confirm endpoints.
type Handler struct {
	service        Service
	logger         *slog.Logger
	metrics        *metrics.Metrics
	decoder        *schema.Decoder
	requestTimeout time.Duration
}

type Option func(*Handler)

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// New creates a subscription Handler.
func New(service Service, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	h := &Handler{
		service:        service,
		logger:         logger,
		metrics:        m,
		decoder:        decoder,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the subscription routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(metadata.ClientMetadata)
		r.Use(requesttime.Middleware)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(h.requestTimeout))
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Post("/subscriptions", h.handleSubscribe)
		r.Get("/subscriptions/confirm", h.handleConfirm)
	})
}

type subscribeRequest struct {
	Name  string `schema:"name" json:"name"`
	Email string `schema:"email" json:"email"`
}

// handleSubscribe creates a pending subscription from a form or JSON body.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := h.decodeSubscribe(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid subscribe request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Create(ctx, req.Name, req.Email); err != nil {
		h.logFailure(ctx, "failed to create subscription", err)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleConfirm confirms the subscriber owning ?subscription_token.
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	if !query.Has("subscription_token") {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "subscription_token is required"))
		return
	}

	if err := h.service.Confirm(ctx, query.Get("subscription_token")); err != nil {
		h.logFailure(ctx, "failed to confirm subscription", err)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) decodeSubscribe(r *http.Request) (subscribeRequest, error) {
	var req subscribeRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Name  *string `json:"name"`
			Email *string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, bodyError(err)
		}
		if body.Name == nil || body.Email == nil {
			return req, dErrors.New(dErrors.CodeBadRequest, "name and email are required")
		}
		req.Name, req.Email = *body.Name, *body.Email
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, bodyError(err)
	}
	if !r.PostForm.Has("name") || !r.PostForm.Has("email") {
		return req, dErrors.New(dErrors.CodeBadRequest, "name and email are required")
	}
	if err := h.decoder.Decode(&req, r.PostForm); err != nil {
		return req, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return dErrors.Wrap(err, dErrors.CodeTooLarge, "request body too large")
	}
	return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
}

// logFailure logs server-side failures at error level and caller mistakes
// at warn level.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeDeliveryFailed, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, msg, "error", err)
	default:
		h.logger.WarnContext(ctx, msg, "error", err.Error())
	}
}
