package main

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// ServeWs handles websocket requests from the peer. The token is checked
// before the upgrade so an unauthenticated socket never reaches the hub.
// GET /ws
func (h *Handler) ServeWs(c echo.Context) error {
	claims, err := h.auth.Authenticate(c.Request())
	if err != nil {
		log.Printf("Unauthorized: %v", err)
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Println(err)
		return nil
	}

	client := newClient(h, conn, claims.UserID)
	if err := h.hub.Register(claims.UserID, client); err != nil {
		log.Printf("Failed to register connection for %s: %v", claims.UserID, err)
		conn.Close()
		return nil
	}

	// Registration happens before the pumps start, so the deferred
	// unregister in readPump always finds the handle.
	go client.writePump()
	go client.readPump()
	return nil
}
