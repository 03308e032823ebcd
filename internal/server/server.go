package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"voicebox/internal/adminauth"
	"voicebox/internal/app"
	"voicebox/internal/episodes"
	"voicebox/internal/platform"
	"voicebox/internal/ratelimit"
	"voicebox/internal/util"
	"voicebox/pkg/domain"
)

// CallbackAnswerer acknowledges Telegram inline button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App              *app.App
	Episodes         *episodes.Service
	Auth             *adminauth.Authenticator
	Callbacks        CallbackAnswerer
	MetaVerifyToken  string
	WebhookLimiter   *ratelimit.FixedWindowLimiter
	OutboxLimiter    *ratelimit.FixedWindowLimiter
	AdminLimiter     *ratelimit.FixedWindowLimiter
	MaxWebhookBytes  int64
}

// Server exposes the webhook, outbox, nightlight, admin, and episode
// endpoints.
type Server struct {
	app             *app.App
	episodes        *episodes.Service
	auth            *adminauth.Authenticator
	callbacks       CallbackAnswerer
	metaVerifyToken string
	webhookLimiter  *ratelimit.FixedWindowLimiter
	outboxLimiter   *ratelimit.FixedWindowLimiter
	adminLimiter    *ratelimit.FixedWindowLimiter
	maxWebhookBytes int64
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("admin authenticator is required")
	}
	maxBytes := cfg.MaxWebhookBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	s := &Server{
		app:             cfg.App,
		episodes:        cfg.Episodes,
		auth:            cfg.Auth,
		callbacks:       cfg.Callbacks,
		metaVerifyToken: cfg.MetaVerifyToken,
		webhookLimiter:  cfg.WebhookLimiter,
		outboxLimiter:   cfg.OutboxLimiter,
		adminLimiter:    cfg.AdminLimiter,
		maxWebhookBytes: maxBytes,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// platform webhooks
	s.mux.HandleFunc("/webhook/whatsapp", s.handleWhatsAppWebhook)
	s.mux.HandleFunc("/webhook/telegram", s.handleTelegramWebhook)

	// outbox
	s.mux.HandleFunc("/outbox/next", s.handleOutboxNext)
	s.mux.HandleFunc("/outbox/", s.handleOutboxByID)

	// nightlight
	s.mux.HandleFunc("/nightlight", s.handleNightlight)

	// admin
	s.mux.HandleFunc("/admin/login", s.handleAdminLogin)
	s.mux.Handle("/admin/senders/", s.adminOnly(s.handleAdminSenderDecision))
	s.mux.Handle("/admin/senders", s.adminOnly(s.handleAdminPendingSenders))

	// episode picker
	s.mux.HandleFunc("/episodes/random", s.handleEpisodeRandom)
	s.mux.HandleFunc("/episodes/history", s.handleEpisodeHistory)
	s.mux.HandleFunc("/episodes/", s.handleEpisodeByNumber)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhooks

func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		v := platform.VerifyWhatsAppSubscription(
			q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.metaVerifyToken)
		if v.OK {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, v.Challenge)
			return
		}
		slog.Warn("webhook verification rejected", "detail", v.Detail)
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, v.Detail)
	case http.MethodPost:
		if !s.allowRate(w, r, s.webhookLimiter, "too many webhook deliveries") {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, s.maxWebhookBytes))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
			return
		}
		// The platform retries on non-200; ingest failures are logged, never
		// surfaced.
		msgs, err := platform.ParseWhatsAppEnvelope(body)
		if err != nil {
			slog.Warn("webhook envelope rejected", "error", err)
		}
		for _, inb := range msgs {
			if err := s.app.Ingest(r.Context(), inb); err != nil {
				slog.Error("ingest failed", "senderId", inb.SenderID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.webhookLimiter, "too many webhook deliveries") {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}
	upd, err := platform.ParseTelegramUpdate(body)
	if err != nil {
		slog.Warn("telegram update rejected", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}
	switch {
	case upd.Inbound != nil:
		if err := s.app.Ingest(r.Context(), *upd.Inbound); err != nil {
			slog.Error("ingest failed", "senderId", upd.Inbound.SenderID, "error", err)
		}
	case upd.Command != nil:
		s.applyAdminCommand(r.Context(), *upd.Command)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// applyAdminCommand runs a decision issued from the admin chat and answers
// the callback with the outcome.
func (s *Server) applyAdminCommand(ctx context.Context, cmd platform.AdminCommand) {
	var answer string
	switch {
	case cmd.TrustAction != "":
		already, err := s.app.Decide(ctx, cmd.SenderID, cmd.TrustAction)
		switch {
		case err != nil:
			answer = err.Error()
			slog.Warn("admin decision failed", "senderId", cmd.SenderID, "action", string(cmd.TrustAction), "error", err)
		case already:
			answer = "already done"
		default:
			answer = "ok"
		}
	case cmd.Nightlight != "":
		status, err := s.app.SetNightlight(cmd.Nightlight)
		switch {
		case err != nil:
			answer = err.Error()
			slog.Warn("nightlight command failed", "duration", cmd.Nightlight, "error", err)
		case status.Active:
			answer = fmt.Sprintf("nightlight on for %s", cmd.Nightlight+"h")
		default:
			answer = "nightlight off"
		}
	}
	if s.callbacks == nil || cmd.CallbackID == "" {
		return
	}
	if err := s.callbacks.AnswerCallback(ctx, cmd.CallbackID, answer); err != nil {
		slog.Warn("callback answer failed", "callbackId", cmd.CallbackID, "error", err)
	}
}

// outbox

type outboxPayload struct {
	ID         int64   `json:"id"`
	SenderName string  `json:"sender_name"`
	Type       string  `json:"type"`
	Message    *string `json:"message"`
	AudioURL   *string `json:"audio_url"`
}

func toOutboxPayload(msg domain.Message) outboxPayload {
	p := outboxPayload{
		ID:         msg.ID,
		SenderName: msg.SenderName,
		Type:       string(msg.Type),
	}
	if msg.TextBody != "" {
		p.Message = &msg.TextBody
	}
	if msg.AudioURL != "" {
		p.AudioURL = &msg.AudioURL
	}
	return p
}

func (s *Server) handleOutboxNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.outboxLimiter, "too many outbox requests") {
		return
	}
	msg, err := s.app.FetchNext()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutboxPayload(msg))
}

func (s *Server) handleOutboxByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/outbox/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		if !s.allowRate(w, r, s.outboxLimiter, "too many outbox requests") {
			return
		}
		msg, err := s.app.Fetch(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOutboxPayload(msg))
	case action == "listened" && r.Method == http.MethodPost:
		if !s.allowRate(w, r, s.outboxLimiter, "too many outbox requests") {
			return
		}
		if err := s.app.Acknowledge(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		methodNotAllowed(w)
	}
}

// nightlight

func (s *Server) handleNightlight(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, err := s.app.NightlightStatus()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeNightlight(w, status)
	case http.MethodPost:
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req struct {
			Duration string `json:"duration"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		status, err := s.app.SetNightlight(req.Duration)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeNightlight(w, status)
	default:
		methodNotAllowed(w)
	}
}

func writeNightlight(w http.ResponseWriter, status domain.NightlightStatus) {
	writeJSON(w, http.StatusOK, map[string]any{
		"nightlight":        status.Active,
		"remaining_seconds": status.RemainingSeconds,
	})
}

// admin

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.adminLimiter, "too many login attempts") {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.auth.Login(req.Password)
	if err != nil {
		slog.Warn("admin login rejected", "ip", util.ClientIP(r, nil))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type adminHandler func(http.ResponseWriter, *http.Request)

func (s *Server) adminOnly(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := adminauth.BearerToken(r)
	if !ok {
		return false
	}
	return s.auth.Validate(token) == nil
}

func (s *Server) handleAdminPendingSenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pending, err := s.app.PendingSenders()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": pending, "count": len(pending)})
}

func (s *Server) handleAdminSenderDecision(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/senders/")
	senderID, action, _ := strings.Cut(rest, "/")
	if senderID == "" || action != "decision" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	trustAction, ok := domain.ParseTrustAction(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "action must be verify or block")
		return
	}
	already, err := s.app.Decide(r.Context(), senderID, trustAction)
	if err != nil {
		if errors.Is(err, app.ErrUnknownSender) {
			writeError(w, http.StatusNotFound, "unknown sender")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	status := "ok"
	if already {
		status = "already done"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// episode picker

func (s *Server) handleEpisodeRandom(w http.ResponseWriter, r *http.Request) {
	if s.episodes == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Live          string   `json:"live"`
		Presenters    []string `json:"presenters"`
		Username      string   `json:"username"`
		ExcludeMonths string   `json:"excludeMonths"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ep, ok, err := s.episodes.Random(episodes.PickFilter{
		Live:          req.Live,
		Presenters:    req.Presenters,
		Username:      req.Username,
		ExcludeMonths: req.ExcludeMonths,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no episodes found with the selected filters")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleEpisodeByNumber(w http.ResponseWriter, r *http.Request) {
	if s.episodes == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	numberPart := strings.TrimPrefix(r.URL.Path, "/episodes/")
	number, err := strconv.Atoi(numberPart)
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid episode number")
		return
	}
	ep, ok, err := s.episodes.ByNumber(number)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no episode found with number %d", number))
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleEpisodeHistory(w http.ResponseWriter, r *http.Request) {
	if s.episodes == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		entries, err := s.episodes.History(username)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
	case http.MethodPost, http.MethodDelete:
		var req struct {
			Username  string `json:"username"`
			EpisodeID int64  `json:"episodeId"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Username) == "" || req.EpisodeID <= 0 {
			writeError(w, http.StatusBadRequest, "username and episodeId are required")
			return
		}
		var err error
		if r.Method == http.MethodPost {
			err = s.episodes.MarkListened(req.Username, req.EpisodeID)
		} else {
			err = s.episodes.RemoveListened(req.Username, req.EpisodeID)
		}
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		methodNotAllowed(w)
	}
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, nil)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, app.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
