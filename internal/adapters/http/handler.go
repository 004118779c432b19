package httpadapter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/aris-agent/internal/app/conversation"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

type Server struct {
	svc *conversation.Service
}

// NewServer builds the router. gatherer backs /metrics; nil means the default registry.
func NewServer(svc *conversation.Service, gatherer prometheus.Gatherer) *gin.Engine {
	s := &Server{svc: svc}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(recovery(), requestID(), withLogging(), withCORS())

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "not_found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.GET("/healthz", s.healthz)

	metrics := promhttp.Handler()
	if gatherer != nil {
		metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metrics))

	sessions := r.Group("/sessions")
	sessions.Use(userRequired())
	sessions.POST("", s.createSession)
	sessions.GET("", s.listSessions)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.POST("/:id/messages", s.sendMessage)
	sessions.DELETE("/:id/messages", s.clearHistory)
	sessions.GET("/:id/events", s.streamEvents)

	return r
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID         string                       `json:"id"`
	SessionID  string                       `json:"session_id"`
	Role       string                       `json:"role"`
	Kind       string                       `json:"kind"`
	Text       string                       `json:"text"`
	ClientRef  string                       `json:"client_ref,omitempty"`
	Distortion *domain.DistortionAnnotation `json:"distortion,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
}

type sendMessageRequest struct {
	Text      string `json:"text" binding:"required"`
	ClientRef string `json:"client_ref,omitempty"`
}

type resultResponse struct {
	Kind       string                       `json:"kind"`
	Advisory   string                       `json:"advisory,omitempty"`
	Text       string                       `json:"text,omitempty"`
	Distortion *domain.DistortionAnnotation `json:"distortion,omitempty"`
}

type sendMessageResponse struct {
	Result           resultResponse   `json:"result"`
	UserMessage      *messageResponse `json:"user_message,omitempty"`
	AssistantMessage *messageResponse `json:"assistant_message,omitempty"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req) // allow empty body

	out, err := s.svc.StartSession(c.Request.Context(), conversation.StartSessionInput{
		UserID: userIDFromContext(c),
		Title:  req.Title,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": toSessionResponse(out.Session)})
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.svc.ListSessions(c.Request.Context(), userIDFromContext(c), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, toSessionResponse(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (s *Server) getSession(c *gin.Context) {
	session, msgs, err := s.svc.GetSessionTimeline(c.Request.Context(), sessionContext(c), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, getSessionResponse{
		Session:  toSessionResponse(session),
		Messages: toMessagesResponse(msgs),
	})
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.svc.DeleteSession(c.Request.Context(), sessionContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_input", "text is required")
		return
	}

	out, err := s.svc.SendMessage(c.Request.Context(), conversation.SendMessageInput{
		Session:   sessionContext(c),
		Text:      req.Text,
		ClientRef: req.ClientRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := sendMessageResponse{
		Result: resultResponse{
			Kind:       string(out.Result.Kind),
			Advisory:   out.Result.Advisory,
			Text:       out.Result.Text,
			Distortion: out.Result.Distortion,
		},
	}
	if out.UserMessage != nil {
		m := toMessageResponse(out.UserMessage)
		resp.UserMessage = &m
	}
	if out.AssistantMessage != nil {
		m := toMessageResponse(out.AssistantMessage)
		resp.AssistantMessage = &m
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.svc.ClearHistory(c.Request.Context(), sessionContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func sessionContext(c *gin.Context) domain.SessionContext {
	return domain.SessionContext{
		UserID:    userIDFromContext(c),
		SessionID: domain.SessionID(c.Param("id")),
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:        string(s.ID),
		UserID:    string(s.UserID),
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:         string(m.ID),
		SessionID:  string(m.SessionID),
		Role:       string(m.Role),
		Kind:       string(m.Kind),
		Text:       m.Text,
		ClientRef:  m.ClientRef,
		Distortion: m.Distortion,
		CreatedAt:  m.CreatedAt,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// writeError maps service errors to responses. Upstream details stay in the logs.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "session_not_found", "session not found")
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrInvalidInput):
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrSafetyCheckUnavailable):
		fail(c, http.StatusServiceUnavailable, "safety_check_unavailable",
			"we could not check your message right now, please try again")
	default:
		observability.LoggerFromContext(c.Request.Context()).Error("request failed", "error", err)
		fail(c, http.StatusBadGateway, "reply_unavailable",
			"something went wrong on our side, please try again")
	}
}
