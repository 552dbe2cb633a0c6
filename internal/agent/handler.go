package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studia/internal/identity"
	"github.com/ashureev/studia/internal/llm"
	"github.com/ashureev/studia/internal/session"
	"github.com/ashureev/studia/internal/stream"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

const localUserID = "local"

var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter implements a per-user rate limiter.
// The key is userID only, not userID:sessionID, so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key. A non-positive
// limit disables throttling.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// HandlerConfig tunes the chat HTTP surface.
type HandlerConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	// AllowedOrigins are the browser origins allowed to open /ws/chat.
	AllowedOrigins []string
}

// Handler serves chat over SSE and WebSocket plus the session history query.
type Handler struct {
	agent          *Service
	rateLimiter    *RateLimiter
	log            ConversationLogger
	maxBodySize    int64
	originPatterns []string
}

// NewHandler creates a chat handler.
func NewHandler(agentService *Service, conversationLogger ConversationLogger, cfg HandlerConfig) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		agent:          agentService,
		rateLimiter:    NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		log:            conversationLogger,
		maxBodySize:    cfg.MaxRequestBodySize,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/ws/chat", h.HandleWebSocket)
	r.Get("/session/history", h.HandleHistory)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

func userIDFrom(ctx context.Context) string {
	if id := identity.UserIDFromContext(ctx); id != "" {
		return id
	}
	return localUserID
}

// resolveSessionID prefers the session named in the request body over the
// header or query value resolved by the identity middleware.
func resolveSessionID(ctx context.Context, bodySessionID string) (string, error) {
	if strings.TrimSpace(bodySessionID) != "" {
		return identity.ParseSessionID(bodySessionID)
	}
	return identity.SessionIDFromContext(ctx), nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps an error that ended a turn before any event was sent.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, identity.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, ErrProfileMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case llm.IsBackendError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleChat handles POST /chat and streams the turn as SSE frames.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if !h.rateLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, ErrEmptyMessage.Error())
		return
	}

	sessionID, err := resolveSessionID(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.UserID = userID
	req.SessionID = sessionID
	req.Channel = "chat_http"
	req.RequestID = chiMiddleware.GetReqID(r.Context())

	enc, err := stream.NewSSEEncoder(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if err := h.streamTurn(r.Context(), req, enc); err != nil {
		if !enc.Started() {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if failErr := enc.Fail(err); failErr != nil {
			slog.Warn("failed to write SSE error event", "error", failErr, "session_id", req.SessionID)
		}
	}
}

// HandleWebSocket handles GET /ws/chat. Every text message from the client
// is a ChatRequest and produces one turn of event frames. A failed turn ends
// with an {"error": ...} frame and the connection stays open.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	slog.Info("Chat WebSocket connected", "user_id", userID)
	for {
		var req ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				slog.Info("Chat WebSocket closed", "user_id", userID)
			default:
				slog.Warn("Chat WebSocket read failed", "user_id", userID, "error", err)
			}
			return
		}

		enc := stream.NewWSEncoder(ctx, conn)
		if !h.rateLimiter.Allow(userID) {
			if err := enc.Fail(errRateLimited); err != nil {
				return
			}
			continue
		}

		sessionID, err := resolveSessionID(ctx, req.SessionID)
		if err != nil {
			if failErr := enc.Fail(err); failErr != nil {
				return
			}
			continue
		}

		req.UserID = userID
		req.SessionID = sessionID
		req.Channel = "chat_ws"
		req.RequestID = chiMiddleware.GetReqID(ctx)

		if err := h.streamTurn(ctx, req, enc); err != nil {
			if failErr := enc.Fail(err); failErr != nil {
				slog.Warn("failed to write WebSocket error frame", "error", failErr, "session_id", req.SessionID)
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// streamTurn runs one chat turn into enc. It returns the error that ended
// the turn. A client that stops reading ends the turn without an error.
func (h *Handler) streamTurn(ctx context.Context, req ChatRequest, enc stream.Encoder) error {
	slog.Info("Agent chat request",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"channel", req.Channel,
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta: map[string]any{
			"request_id": req.RequestID,
		},
	})

	var assistantContent strings.Builder
	streamChunks := 0
	finished := false
	var turnErr error

	for ev, err := range h.agent.Chat(ctx, req) {
		if err != nil {
			slog.Error("Agent stream failed", "error", err, "session_id", req.SessionID)
			turnErr = err
			break
		}
		switch ev.Kind {
		case stream.KindToken:
			streamChunks++
			assistantContent.WriteString(ev.Text)
		case stream.KindToolCall:
			args, err := json.Marshal(ev.Args)
			if err != nil {
				slog.Warn("failed to encode tool call arguments", "error", err, "tool", ev.Tool, "session_id", req.SessionID)
				args = []byte("{}")
			}
			h.log.Log(ConversationLogEvent{
				UserID:     req.UserID,
				SessionID:  req.SessionID,
				Channel:    req.Channel,
				Direction:  "outbound",
				EventType:  "chat_tool_call",
				ContentRaw: ev.Tool + " " + string(args),
				Meta: map[string]any{
					"tool":       ev.Tool,
					"request_id": req.RequestID,
				},
			})
		case stream.KindDone:
			finished = true
		}

		if err := enc.Encode(ev); err != nil {
			slog.Warn("failed to write chat event", "error", err, "session_id", req.SessionID)
			break
		}
	}

	// Failures before any model output leave nothing to record.
	if errors.Is(turnErr, ErrProfileMissing) || errors.Is(turnErr, ErrEmptyMessage) || errors.Is(turnErr, identity.ErrInvalidSessionID) {
		return turnErr
	}
	streamErrMsg := ""
	if turnErr != nil {
		streamErrMsg = turnErr.Error()
	}
	h.logAssistantMessage(req, assistantContent.String(), streamChunks, !finished, streamErrMsg)
	return turnErr
}

func (h *Handler) logAssistantMessage(req ChatRequest, content string, streamChunks int, partial bool, streamErrMsg string) {
	h.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Meta: map[string]any{
			"stream_chunks": streamChunks,
			"partial":       partial,
			"stream_error":  streamErrMsg,
			"request_id":    req.RequestID,
		},
	})
}

// HandleHistory handles GET /session/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if q := r.URL.Query().Get(identity.SessionQueryParam); q != "" {
		parsed, err := identity.ParseSessionID(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sessionID = parsed
	}

	history, err := h.agent.History(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session history", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	records := make([]HistoryRecord, 0, len(history))
	for _, e := range history {
		records = append(records, HistoryRecord{Role: string(e.Role), Content: e.Content})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		slog.Warn("failed to encode session history", "error", err)
	}
}
