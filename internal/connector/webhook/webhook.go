package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Config holds webhook receiver configuration.
type Config struct {
	// Secret is the last path segment Telegram posts to. Only requests
	// carrying it are accepted.
	Secret string `json:"secret"`
}

// UpdateFunc receives the raw JSON body of one update.
type UpdateFunc func(ctx context.Context, body []byte) error

// Handler receives Telegram webhook deliveries at /telegram/webhook/{secret}.
type Handler struct {
	config  Config
	deliver UpdateFunc
	logger  *slog.Logger
}

// New creates a new webhook handler.
func New(cfg Config, deliver UpdateFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		deliver: deliver,
		logger:  logger,
	}
}

// Path returns the route the handler should be mounted on for secret.
func Path(secret string) string {
	return "/telegram/webhook/" + secret
}

// ServeHTTP handles one update delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	secret := r.PathValue("secret")
	if secret == "" {
		secret = extractName(r.URL.Path)
	}
	if h.config.Secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.config.Secret)) != 1 {
		// Same answer as an unknown route.
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := h.deliver(r.Context(), body); err != nil {
		h.logger.Error("webhook delivery error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// extractName gets the last path segment from /telegram/webhook/{secret}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}
