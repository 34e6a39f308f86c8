package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/relay/internal/logbuf"
	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// TicketStore is the part of ticket.Store the API reads and administers.
type TicketStore interface {
	GetByTicketID(ctx context.Context, id int64) (*protocol.Ticket, error)
	List(ctx context.Context, filter ticket.Filter) ([]*protocol.Ticket, error)
	Count(ctx context.Context, filter ticket.Filter) (int, error)
	AddChannel(ctx context.Context, channelID string) error
	RemoveChannel(ctx context.Context, channelID string) error
	ListChannels(ctx context.Context) ([]string, error)
}

// Config holds API server configuration.
type Config struct {
	Host            string
	Port            int
	Key             string // API key for Bearer auth
	ResponderChatID string // refused as a requester channel
}

// Server is the operator REST API server.
type Server struct {
	store  TicketStore
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	mux    *http.ServeMux
	srv    *http.Server
}

// TicketList is the response body of GET /api/tickets.
type TicketList struct {
	Tickets []*protocol.Ticket `json:"tickets"`
	Total   int                `json:"total"` // matches ignoring limit
}

// ChannelRequest is the body of POST /api/channels.
type ChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

// NewServer creates a new API server. logs may be nil.
func NewServer(store TicketStore, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	s.mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	s.mux.HandleFunc("GET /api/channels", s.requireAuth(s.handleListChannels))
	s.mux.HandleFunc("POST /api/channels", s.requireAuth(s.handleAddChannel))
	s.mux.HandleFunc("DELETE /api/channels/{id}", s.requireAuth(s.handleRemoveChannel))
	s.mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handle mounts an extra handler, such as the Telegram webhook receiver.
// Extra handlers do their own authentication. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Key)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ticket.Filter{ChannelID: q.Get("channel")}
	if status := q.Get("status"); status != "" {
		ts := protocol.TicketStatus(status)
		if !ts.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be open or closed"})
			return
		}
		filter.Status = &ts
	}
	if q.Get("order") == "asc" {
		filter.Ascending = true
	}

	total, err := s.store.Count(r.Context(), filter)
	if err != nil {
		s.internalError(w, "count tickets", err)
		return
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	tickets, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list tickets", err)
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, TicketList{Tickets: tickets, Total: total})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket id must be a number"})
		return
	}
	t, err := s.store.GetByTicketID(r.Context(), id)
	if errors.Is(err, ticket.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	if err != nil {
		s.internalError(w, "get ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		s.internalError(w, "list channels", err)
		return
	}
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel_id is required"})
		return
	}
	if req.ChannelID == s.cfg.ResponderChatID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "the responder chat cannot be a requester channel"})
		return
	}

	if err := s.store.AddChannel(r.Context(), req.ChannelID); err != nil {
		s.internalError(w, "add channel", err)
		return
	}
	s.logger.Info("channel authorized", "channel_id", req.ChannelID, "via", "api")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "channel_id": req.ChannelID})
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.RemoveChannel(r.Context(), id)
	if errors.Is(err, ticket.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not authorized"})
		return
	}
	if err != nil {
		s.internalError(w, "remove channel", err)
		return
	}
	s.logger.Info("channel revoked", "channel_id", id, "via", "api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "channel_id": id})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Limit:    200,
		Ticket:   q.Get("ticket"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}

	if lvl := q.Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			f.MinLevel = slog.LevelInfo
		case "warn":
			f.MinLevel = slog.LevelWarn
		case "error":
			f.MinLevel = slog.LevelError
		}
	}

	if s := q.Get("since"); s != "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("api: "+op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
