package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicore/queue-api/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Client is one connected observer (doctor console, reception desk or
// display screen). Reads and writes run on their own goroutines; the hub
// only touches the buffered send channel.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	rooms map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, rooms []string) *Client {
	c := &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]bool),
	}
	for _, room := range rooms {
		c.rooms[room] = true
	}
	return c
}

// readPump consumes subscribe/unsubscribe messages until the connection
// drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg SubscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if !validRoom(msg.Room) {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.hub.Join(c, msg.Room)
		case "unsubscribe":
			c.hub.Leave(c, msg.Room)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func validRoom(room string) bool {
	if room == model.RoomDisplay {
		return true
	}
	const prefix = "doctor:"
	return len(room) > len(prefix) && room[:len(prefix)] == prefix
}
