package events

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время, которое разрешено клиенту читать следующее сообщение.
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту.
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения. Клиенты событий ничего не
	// отправляют, кроме pong, поэтому лимит минимальный.
	maxMessageSize = 256

	// Размер буфера канала отправки сообщений клиенту
	clientBufferSize = 16
)

// Client является посредником между WebSocket соединением вкладки портала
// и хабом событий сессий.
type Client struct {
	// Email аккаунта, чьи события сессии слушает эта вкладка
	Email string

	// SessionID сессии, открытой в этой вкладке
	SessionID string

	// Уникальный ID для каждого соединения
	ConnectionID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient создает нового клиента событий
func NewClient(hub *Hub, conn *websocket.Conn, email, sessionID string) *Client {
	return &Client{
		Email:        email,
		SessionID:    sessionID,
		ConnectionID: uuid.New().String(),
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, clientBufferSize),
	}
}

// ReadPump читает (и игнорирует) входящие сообщения, поддерживая pong-логику.
// Выход из цикла означает разрыв соединения и дерегистрацию клиента.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[EventsClient] unexpected close for %s: %v", c.Email, err)
			}
			return
		}
	}
}

// WritePump отправляет события из канала send в соединение и шлет ping-и
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Хаб закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
