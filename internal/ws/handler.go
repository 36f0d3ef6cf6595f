package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Subscribe upgrades the connection and registers the observer. Initial
// rooms may be passed as ?rooms=doctor:<id>,display; further
// subscribe/unsubscribe messages are accepted over the socket.
func (h *Handler) Subscribe(c *gin.Context) {
	var rooms []string
	if raw := c.Query("rooms"); raw != "" {
		for _, room := range strings.Split(raw, ",") {
			room = strings.TrimSpace(room)
			if validRoom(room) {
				rooms = append(rooms, room)
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	client := newClient(h.hub, conn, rooms)
	h.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/queue/ws", h.Subscribe)
}
