package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"premiumsync/internal/auth"
	"premiumsync/internal/billing"
	"premiumsync/internal/config"
	"premiumsync/internal/emailaddr"
	"premiumsync/internal/entitlements"
	"premiumsync/internal/logging"
)

type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (billing.Result, error)
}

type EntitlementReader interface {
	Lookup(ctx context.Context, userID string) (entitlements.Status, error)
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, userID, email string) (*billing.CheckoutResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Config       config.Config
	Auth         *auth.Service
	Billing      WebhookProcessor
	Entitlements EntitlementReader
	Checkout     CheckoutCreator
	RateLimiter  *RateLimiter

	// Ready is checked by /readyz, keyed by dependency name.
	Ready map[string]Pinger
}

func NewHandler(cfg config.Config, authSvc *auth.Service, billingSvc WebhookProcessor, reader EntitlementReader, checkout CheckoutCreator) *Handler {
	return &Handler{
		Config:       cfg,
		Auth:         authSvc,
		Billing:      billingSvc,
		Entitlements: reader,
		Checkout:     checkout,
		RateLimiter:  NewRateLimiter(cfg.Security.WebhookRPM),
		Ready:        map[string]Pinger{},
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/billing/webhook", h.handleWebhook)
	mux.HandleFunc("/v1/entitlements/me", h.requirePrincipal(h.handleOwnEntitlement))
	mux.HandleFunc("/v1/entitlements/{user_id}", h.requirePrincipal(h.handleUserEntitlement))
	mux.HandleFunc("/v1/checkout", h.requirePrincipal(h.handleCheckout))
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
}

// Router returns the routes wrapped with request id tagging.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return withRequestID(mux)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Billing == nil {
		http.Error(w, "billing not configured", http.StatusInternalServerError)
		return
	}
	if ok, retryAfter := h.RateLimiter.Allow(clientKey(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	maxBytes := h.Config.HTTP.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	res, err := h.Billing.ProcessWebhook(r.Context(), payload, r.Header.Get(billing.SignatureHeader))
	if err != nil {
		status := webhookStatus(r.Context(), err)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "outcome": res.Outcome})
}

// webhookStatus maps delivery errors to HTTP statuses. Anything that is not
// the caller's fault gets a 5xx so the provider redelivers.
func webhookStatus(ctx context.Context, err error) int {
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrMalformedBody):
		return http.StatusBadRequest
	case billing.IsRetryable(err):
		return http.StatusInternalServerError
	default:
		logging.FromContext(ctx).Error().Err(err).Msg("unclassified webhook error")
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleOwnEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if principal.UserID == "" {
		writeError(w, http.StatusBadRequest, "service callers must name a user")
		return
	}
	h.writeEntitlement(w, r, principal.UserID)
}

func (h *Handler) handleUserEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	if err := h.Auth.AuthorizeUser(principal, userID); err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	h.writeEntitlement(w, r, userID)
}

func (h *Handler) writeEntitlement(w http.ResponseWriter, r *http.Request, userID string) {
	status, err := h.Entitlements.Lookup(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("user_id", userID).Msg("entitlement lookup failed")
		writeError(w, http.StatusInternalServerError, "entitlement lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "checkout not configured")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	userID := principal.UserID
	if principal.IsService() {
		userID = strings.TrimSpace(req.UserID)
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email != "" {
		canonical, err := emailaddr.Canonicalize(email)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid email")
			return
		}
		email = canonical
	}

	result, err := h.Checkout.CreateCheckout(r.Context(), userID, email)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("user_id", userID).Msg("create checkout failed")
		writeError(w, http.StatusBadGateway, "checkout unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Ready))
	ready := true
	for name, dep := range h.Ready {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

// requirePrincipal authenticates the caller and hands the principal to next
// through the request context.
func (h *Handler) requirePrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		principal, err := h.Auth.AuthenticateRequest(r)
		if err != nil {
			logging.FromContext(r.Context()).Info().Err(err).Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := auth.WithPrincipal(r.Context(), principal)
		logger := logging.FromContext(ctx).With().Str("auth_method", principal.AuthMethod).Logger()
		next(w, r.WithContext(logger.WithContext(ctx)))
	}
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
