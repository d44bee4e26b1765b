// Package websocket publica en vivo los cambios de estado de las llamadas.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"agentbridge/internal/routing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message es lo que recibe cada cliente conectado
type Message struct {
	Type      routing.NotificationType `json:"type"`
	Data      routing.Notification     `json:"data"`
	Timestamp time.Time                `json:"timestamp"`
}

// Client representa una conexión WebSocket
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	agent string // vacío = todos los agentes
}

type envelope struct {
	agent string
	data  []byte
}

// Hub mantiene las conexiones activas y difunde las notificaciones
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	done       chan struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        logrus.FieldLogger
}

// NewHub crea un nuevo Hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, sendBuffer),
		done:       make(chan struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run atiende registros y difusiones hasta que ctx termine
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Hub WebSocket iniciado")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", n).Info("Cliente conectado")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", n).Info("Cliente desconectado")

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.agent != "" && client.agent != env.agent {
			continue
		}
		select {
		case client.send <- env.data:
		default:
			// cliente lento
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Notify difunde una notificación del enrutador. No bloquea: si el buffer
// de difusión está lleno la notificación se descarta.
func (h *Hub) Notify(n routing.Notification) {
	data, err := json.Marshal(Message{Type: n.Type, Data: n, Timestamp: n.At})
	if err != nil {
		h.log.WithError(err).Error("Error serializando notificación")
		return
	}
	select {
	case h.broadcast <- envelope{agent: n.Agent, data: data}:
	default:
		h.log.WithField("type", n.Type).Warn("Buffer de difusión lleno, notificación descartada")
	}
}

// ServeHTTP atiende la actualización a WebSocket. El parámetro opcional
// ?agent= limita el flujo a las llamadas de un agente.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Error de upgrade WebSocket")
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		agent: r.URL.Query().Get("agent"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount devuelve el número de clientes conectados
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump solo atiende pongs y detecta el cierre del cliente
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("Error de lectura WebSocket")
			}
			return
		}
	}
}

// writePump envía un mensaje JSON por frame y hace ping periódico
func (c *Client) writePump() {
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
