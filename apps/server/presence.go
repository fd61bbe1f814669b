package main

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	Sessions int        `json:"sessions"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Presence reports whether userID holds a live connection. sessions and
// last_seen describe this node only.
// GET /presence/:userID
func (h *Handler) Presence(c echo.Context) error {
	if _, err := viewer(c); err != nil {
		return err
	}
	userID := c.Param("userID")

	resp := presenceResponse{
		UserID:   userID,
		Online:   h.hub.IsOnline(userID),
		Sessions: h.hub.Sessions(userID),
	}
	if t, ok := h.hub.LastSeen(userID); ok {
		resp.LastSeen = &t
	}

	if !resp.Online && h.presence != nil {
		online, err := h.presence.Online(c.Request().Context(), userID)
		if err != nil {
			// The local answer still stands.
			log.Printf("Failed to fetch cluster presence for %s: %v", userID, err)
		}
		resp.Online = online
	}
	return c.JSON(http.StatusOK, resp)
}
