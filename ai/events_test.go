package ai

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestEventHubDeliversProcessedEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewEventHub()

	router := gin.New()
	router.GET("/events", hub.HandleSubscribe)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)
	hub.PublishProcessed(42, StatusEnriched)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != "item.processed" || event.ItemID != 42 || event.Status != StatusEnriched {
		t.Fatalf("event = %+v", event)
	}
	if event.ID == "" || event.At.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", event)
	}
}

func TestPublishProcessedOnNilHub(t *testing.T) {
	var hub *EventHub
	// Must not panic.
	hub.PublishProcessed(1, StatusFallback)
}
