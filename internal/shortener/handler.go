package shortener

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/snipurl/snipurl/internal/auth"
	"github.com/snipurl/snipurl/internal/errx"
	"github.com/snipurl/snipurl/internal/httpx"
	"github.com/snipurl/snipurl/internal/metrics"
	"github.com/snipurl/snipurl/keygen"
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	OriginalURL string     `json:"original_url"`
	CustomKey   string     `json:"custom_key,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// HTTPUpdateLinkRequest represents the JSON request body for a partial update.
// Setting clear_expiry removes an existing expiry; it wins over expires_at.
type HTTPUpdateLinkRequest struct {
	OriginalURL *string    `json:"original_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
}

// LinkResponse represents the JSON shape of a link.
type LinkResponse struct {
	ID          string     `json:"id"`
	ShortKey    string     `json:"short_key"`
	OriginalURL string     `json:"original_url"`
	ShortURL    string     `json:"short_url"`
	ClickCount  int64      `json:"click_count"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ClickEventResponse represents one recorded click.
type ClickEventResponse struct {
	OccurredAt time.Time `json:"occurred_at"`
	ShortKey   string    `json:"short_key"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
}

// DailyCountResponse is one day bucket of click volume.
type DailyCountResponse struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// LinkAnalyticsResponse is the per-link analytics view.
type LinkAnalyticsResponse struct {
	Link         LinkResponse         `json:"link"`
	ClickCount   int64                `json:"click_count"`
	RecentClicks []ClickEventResponse `json:"recent_clicks"`
	Daily        []DailyCountResponse `json:"daily"`
}

// OwnerAnalyticsResponse aggregates across all of the caller's links.
type OwnerAnalyticsResponse struct {
	TotalLinks   int64                `json:"total_links"`
	TotalClicks  int64                `json:"total_clicks"`
	RecentClicks []ClickEventResponse `json:"recent_clicks"`
}

// Redirector resolves a short key to its destination URL.
type Redirector interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// ClickSink accepts click events without blocking the caller.
type ClickSink interface {
	Record(event ClickEvent) bool
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service        Service
	redirector     Redirector
	clicks         ClickSink
	metrics        *metrics.Metrics
	logger         *slog.Logger
	baseURL        string
	allowAnonymous bool
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service        Service
	Redirector     Redirector
	Clicks         ClickSink
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	BaseURL        string // Base URL for constructing short URLs (e.g., "https://sni.pr")
	AllowAnonymous bool   // permit unauthenticated link creation
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Handler{
		service:        cfg.Service,
		redirector:     cfg.Redirector,
		clicks:         cfg.Clicks,
		metrics:        m,
		logger:         logger,
		baseURL:        cfg.BaseURL,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// CreateLink handles POST requests to create a new short link.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var ownerID *uuid.UUID
	if owner, ok := auth.OwnerFromContext(ctx); ok {
		ownerID = &owner
	} else if !h.allowAnonymous {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized",
			"authentication required to create links", nil)
		return
	}

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if req.OriginalURL == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "original_url is required", nil)
		return
	}

	link, err := h.service.Create(ctx, CreateLinkRequest{
		OriginalURL: req.OriginalURL,
		CustomKey:   req.CustomKey,
		ExpiresAt:   req.ExpiresAt,
		OwnerID:     ownerID,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "creating link")
		return
	}

	logger.InfoContext(ctx, "link created",
		"link_id", link.ID.String(),
		"short_key", link.ShortKey,
		"custom_key", req.CustomKey != "",
		"anonymous", ownerID == nil,
	)

	httpx.WriteJSON(w, http.StatusCreated, h.linkResponse(link))
}

// ListLinks handles GET requests for all of the caller's links.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := auth.OwnerFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	links, err := h.service.List(ctx, owner)
	if err != nil {
		h.writeServiceError(ctx, w, err, "listing links")
		return
	}

	resp := make([]LinkResponse, 0, len(links))
	for _, link := range links {
		resp = append(resp, h.linkResponse(link))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// GetLink handles GET requests for a single link by id.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, id, ok := h.ownedLinkParams(w, r)
	if !ok {
		return
	}

	link, err := h.service.Get(ctx, id, owner)
	if err != nil {
		h.writeServiceError(ctx, w, err, "fetching link")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.linkResponse(link))
}

// UpdateLink handles PATCH requests mutating a link's destination or expiry.
func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	owner, id, ok := h.ownedLinkParams(w, r)
	if !ok {
		return
	}

	req, err := httpx.DecodeJSON[HTTPUpdateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	link, err := h.service.Update(ctx, id, owner, LinkPatch{
		OriginalURL: req.OriginalURL,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "updating link")
		return
	}

	logger.InfoContext(ctx, "link updated", "link_id", link.ID.String(), "short_key", link.ShortKey)
	httpx.WriteJSON(w, http.StatusOK, h.linkResponse(link))
}

// DeleteLink handles DELETE requests removing a link and its click history.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	owner, id, ok := h.ownedLinkParams(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, id, owner); err != nil {
		h.writeServiceError(ctx, w, err, "deleting link")
		return
	}

	logger.InfoContext(ctx, "link deleted", "link_id", id.String())
	w.WriteHeader(http.StatusNoContent)
}

// LinkAnalytics handles GET requests for a single link's click statistics.
func (h *Handler) LinkAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, id, ok := h.ownedLinkParams(w, r)
	if !ok {
		return
	}

	summary, err := h.service.LinkSummary(ctx, id, owner)
	if err != nil {
		h.writeServiceError(ctx, w, err, "fetching link analytics")
		return
	}

	resp := LinkAnalyticsResponse{
		Link:         h.linkResponse(summary.Link),
		ClickCount:   summary.ClickCount,
		RecentClicks: clickResponses(summary.RecentClicks),
		Daily:        make([]DailyCountResponse, 0, len(summary.Daily)),
	}
	for _, d := range summary.Daily {
		resp.Daily = append(resp.Daily, DailyCountResponse{
			Day:   d.Day.Format("2006-01-02"),
			Count: d.Count,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// OwnerAnalytics handles GET requests for the caller's aggregate statistics.
func (h *Handler) OwnerAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := auth.OwnerFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	summary, err := h.service.OwnerSummary(ctx, owner)
	if err != nil {
		h.writeServiceError(ctx, w, err, "fetching owner analytics")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, OwnerAnalyticsResponse{
		TotalLinks:   summary.TotalLinks,
		TotalClicks:  summary.TotalClicks,
		RecentClicks: clickResponses(summary.RecentClicks),
	})
}

// Redirect handles GET requests on short keys. The click is handed to the
// recorder before the 302 is written; a saturated queue loses the click,
// never the redirect. Expired and unknown keys both answer 404.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	key := r.PathValue("code")
	if err := keygen.ValidateKeyFormat(key); err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)
		return
	}

	destination, err := h.redirector.Resolve(ctx, key)
	if err != nil {
		h.writeResolveError(ctx, w, err, key)
		return
	}

	if h.clicks != nil {
		h.clicks.Record(ClickEvent{
			ShortKey:  key,
			IPAddress: httpx.ClientIP(r),
			UserAgent: r.UserAgent(),
			Referrer:  r.Referer(),
		})
	}
	h.metrics.Redirects.Inc()

	logger.InfoContext(ctx, "redirect served", "short_key", key)
	http.Redirect(w, r, destination, http.StatusFound)
}

func (h *Handler) linkResponse(link Link) LinkResponse {
	return LinkResponse{
		ID:          link.ID.String(),
		ShortKey:    link.ShortKey,
		OriginalURL: link.OriginalURL,
		ShortURL:    fmt.Sprintf("%s/%s", h.baseURL, link.ShortKey),
		ClickCount:  link.ClickCount,
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
		UpdatedAt:   link.UpdatedAt,
	}
}

func clickResponses(events []ClickEvent) []ClickEventResponse {
	resp := make([]ClickEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, ClickEventResponse{
			OccurredAt: e.OccurredAt,
			ShortKey:   e.ShortKey,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			Referrer:   e.Referrer,
		})
	}
	return resp
}

// ownedLinkParams pulls the authenticated owner and the {id} path parameter.
// It writes the error response itself when either is missing.
func (h *Handler) ownedLinkParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "link id must be a UUID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return owner, id, true
}

// writeServiceError maps service errors onto HTTP responses.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, action string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.Invalid, errx.NotFound, errx.Forbidden:
		h.logger.WarnContext(ctx, "request rejected while "+action, logAttrs...)
	case errx.Conflict:
		h.logger.WarnContext(ctx, "key conflict while "+action, logAttrs...)
		httpx.WriteError(w, http.StatusConflict, "conflict",
			"This key is already taken",
			map[string]string{
				"hint": "Try a different custom key or let us generate one for you",
			})
		return
	default:
		h.logger.ErrorContext(ctx, "unexpected error while "+action, logAttrs...)
	}

	message := err.Error()
	if kind == errx.Unavailable || kind == errx.Internal || kind == errx.Unknown {
		// Internal detail stays in the logs.
		message = "Unable to complete the request at this time. Please try again."
	}
	httpx.WriteError(w, httpx.ErrorKindToStatus(kind), httpx.ErrorKindToCode(kind), message, nil)
}

// writeResolveError maps redirect-path errors. The contract on this path is
// 302 or 404; expiry is not distinguishable from absence on the wire.
func (h *Handler) writeResolveError(ctx context.Context, w http.ResponseWriter, err error, key string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
		"short_key", key,
	}

	switch kind {
	case errx.NotFound:
		h.logger.WarnContext(ctx, "short key not found", logAttrs...)
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)

	case errx.Gone:
		h.logger.InfoContext(ctx, "expired link requested", logAttrs...)
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)

	case errx.Unavailable:
		h.logger.ErrorContext(ctx, "resolve unavailable", logAttrs...)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
			"Unable to resolve this link at this time", nil)

	default:
		h.logger.ErrorContext(ctx, "unexpected error resolving link", logAttrs...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Unable to resolve this link at this time", nil)
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}
