package ai

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// StatusEnriched marks items processed by the language model.
	StatusEnriched = "enriched"
	// StatusFallback marks items that received the deterministic fallback.
	StatusFallback = "fallback"

	eventWriteWait   = 10 * time.Second
	clientBufferSize = 16
)

// Event is pushed to subscribers whenever an item finishes processing.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	ItemID uint64    `json:"itemId"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan Event
}

// EventHub fans processing events out to websocket subscribers. All client
// bookkeeping happens on the run goroutine; the channels are the only way in.
type EventHub struct {
	register   chan *eventClient
	unregister chan *eventClient
	events     chan Event
}

func NewEventHub() *EventHub {
	hub := &EventHub{
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		events:     make(chan Event, 64),
	}
	go hub.run()
	return hub
}

func (h *EventHub) run() {
	clients := make(map[*eventClient]struct{})
	for {
		select {
		case client := <-h.register:
			clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}
		case event := <-h.events:
			for client := range clients {
				select {
				case client.send <- event:
				default:
					// Slow consumer, drop it.
					delete(clients, client)
					close(client.send)
				}
			}
		}
	}
}

// PublishProcessed emits an item.processed event. Non-blocking: if the hub is
// saturated the event is dropped.
func (h *EventHub) PublishProcessed(itemID uint64, status string) {
	if h == nil {
		return
	}
	event := Event{
		ID:     uuid.NewString(),
		Type:   "item.processed",
		ItemID: itemID,
		Status: status,
		At:     time.Now().UTC(),
	}
	select {
	case h.events <- event:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleSubscribe upgrades the request to a websocket and streams events
// until the peer goes away.
func (h *EventHub) HandleSubscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ai: websocket upgrade failed: %v", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan Event, clientBufferSize)}
	h.register <- client

	go func() {
		defer func() {
			h.unregister <- client
			conn.Close()
		}()
		for event := range client.send {
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Drain the reader so close frames and pings are handled.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- client
				return
			}
		}
	}()
}
