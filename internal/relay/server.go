package relay

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/chat"
)

const userKey = "huddle.user"

type createConversationRequest struct {
	Kind           chat.Kind `json:"kind"`
	Title          string    `json:"title"`
	ParticipantIDs []string  `json:"participantIds"`
}

type createMessageRequest struct {
	ClientID    string            `json:"clientId"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments"`
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type readRequest struct {
	UpToID string `json:"upToId"`
}

// Handler returns the HTTP routes: the REST API under /api and the
// websocket endpoint at /ws.
func (r *Relay) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), r.accessLog())

	corsConfig := cors.DefaultConfig()
	if len(r.opts.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = r.opts.AllowOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowHeaders("Authorization")
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/ws", r.authenticate, func(c *gin.Context) {
		r.serveSocket(c.Writer, c.Request, c.GetString(userKey))
	})

	api := engine.Group("/api", r.authenticate)
	{
		api.GET("/conversations", r.listConversations)
		api.POST("/conversations", r.postConversation)
		api.GET("/conversations/:id/messages", r.listMessages)
		api.POST("/conversations/:id/messages", r.postConversationMessage)
		api.POST("/conversations/:id/read", r.postRead)
		api.POST("/conversations/:id/leave", r.postLeave)
		api.PATCH("/messages/:id", r.patchMessage)
		api.DELETE("/messages/:id", r.removeMessage)
	}
	return engine
}

// authenticate accepts a bearer token, or a token query parameter for
// browsers that cannot set headers on websocket requests. The token is the
// user id.
func (r *Relay) authenticate(c *gin.Context) {
	token := c.Query("token")
	if h := c.GetHeader("Authorization"); h != "" {
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if token == "" {
		abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	c.Set(userKey, token)
	c.Next()
}

func (r *Relay) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (r *Relay) listConversations(c *gin.Context) {
	convs := r.conversations(c.GetString(userKey))
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (r *Relay) postConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := r.createConversation(c.GetString(userKey), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (r *Relay) listMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abort(c, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	msgs, err := r.history(c.GetString(userKey), c.Param("id"), c.Query("before"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (r *Relay) postConversationMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	m, err := r.postMessage(c.GetString(userKey), c.Param("id"), req.ClientID, req.Content, req.Attachments)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (r *Relay) postRead(c *gin.Context) {
	var req readRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if err := r.markRead(c.GetString(userKey), c.Param("id"), req.UpToID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Relay) postLeave(c *gin.Context) {
	if err := r.leave(c.GetString(userKey), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Relay) patchMessage(c *gin.Context) {
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	m, err := r.editMessage(c.GetString(userKey), c.Param("id"), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (r *Relay) removeMessage(c *gin.Context) {
	if err := r.deleteMessage(c.GetString(userKey), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errNotFound):
		abort(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errForbidden), errors.Is(err, errNotOwner):
		abort(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, errInvalid):
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		abort(c, http.StatusInternalServerError, "internal", err.Error())
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
