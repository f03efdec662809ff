package web

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type message struct {
	kind string
	data []byte
}

// Hub fans status and device updates out to every connected browser. Only Run
// writes to client connections.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	// latest message per kind, replayed to new clients
	latest map[string][]byte
	order  []string
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan message, 32),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		latest:     make(map[string][]byte),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Debug().Int("clients", len(h.clients)).Msg("viewer connected")
			for _, kind := range h.order {
				h.send(client, h.latest[kind])
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			log.Debug().Int("clients", len(h.clients)).Msg("viewer disconnected")

		case msg := <-h.broadcast:
			if _, seen := h.latest[msg.kind]; !seen {
				h.order = append(h.order, msg.kind)
			}
			h.latest[msg.kind] = msg.data
			for client := range h.clients {
				h.send(client, msg.data)
			}
		}
	}
}

func (h *Hub) send(client *websocket.Conn, data []byte) {
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("error sending message, dropping viewer")
		delete(h.clients, client)
		_ = client.Close()
	}
}

func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		_ = client.Close()
	}
}

func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues data for every viewer. It never blocks; when the queue is
// full the update is dropped and the next one supersedes it.
func (h *Hub) Broadcast(kind string, data []byte) {
	select {
	case h.broadcast <- message{kind: kind, data: data}:
	default:
		log.Warn().Str("kind", kind).Msg("viewer queue full, dropping update")
	}
}
