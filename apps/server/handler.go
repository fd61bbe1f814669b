package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mahaj/wedding-chat/pkg/auth"
	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/conversation"
	"github.com/mahaj/wedding-chat/pkg/delivery"
	"github.com/mahaj/wedding-chat/pkg/hub"
	"github.com/mahaj/wedding-chat/pkg/store"
)

// ClusterPresence answers whether a user is connected to any node.
type ClusterPresence interface {
	Online(ctx context.Context, userID string) (bool, error)
}

// Handler serves the REST API and the WebSocket endpoint.
type Handler struct {
	auth     *auth.Authenticator
	hub      *hub.Hub
	delivery *delivery.Coordinator
	index    *conversation.Index
	presence ClusterPresence // nil without Redis
	cfg      *config.Config
}

func NewHandler(cfg *config.Config, a *auth.Authenticator, h *hub.Hub, d *delivery.Coordinator, idx *conversation.Index, p ClusterPresence) *Handler {
	return &Handler{
		auth:     a,
		hub:      h,
		delivery: d,
		index:    idx,
		presence: p,
		cfg:      cfg,
	}
}

// RegisterRoutes registers every route with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	if h.cfg.DevLogin {
		e.POST("/login", h.Login)
	}

	// The upgrade handler authenticates on its own so it can refuse before
	// the socket is accepted.
	e.GET("/ws", h.ServeWs)

	e.POST("/messages", h.SendMessage, h.requireAuth)
	e.GET("/messages/unread/count", h.UnreadCounts, h.requireAuth)
	e.GET("/messages/:otherPartyID", h.History, h.requireAuth)
	e.POST("/messages/:otherPartyID/read", h.MarkRead, h.requireAuth)
	e.GET("/conversations", h.Conversations, h.requireAuth)
	e.GET("/presence/:userID", h.Presence, h.requireAuth)
}

// requireAuth rejects requests without a valid bearer token and stores the
// claims on the request context.
func (h *Handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := h.auth.Authenticate(c.Request())
		if err != nil {
			return err
		}
		c.SetRequest(c.Request().WithContext(auth.WithClaims(c.Request().Context(), claims)))
		return next(c)
	}
}

func viewer(c echo.Context) (string, error) {
	userID, ok := auth.UserID(c.Request().Context())
	if !ok {
		return "", auth.ErrUnauthenticated
	}
	return userID, nil
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"node_id":     h.cfg.NodeID,
		"connections": h.hub.ConnectionCount(),
	})
}

type loginRequest struct {
	UserID string `json:"user_id"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login issues a token for any user id. Only routed when DEV_LOGIN is set.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return &store.ValidationError{Field: "user_id", Reason: "is required"}
	}

	token, err := h.auth.GenerateToken(req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token})
}
