package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/services"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Start(ctx)
	return hub
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[4:] + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) models.WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_CreatesHub(t *testing.T) {
	hub := New(logger.New())

	if hub.log == nil {
		t.Error("expected logger to be set")
	}
	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("expected channels to be initialized")
	}
}

func TestHub_BroadcastMessage_NoClients(t *testing.T) {
	hub := startHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := hub.BroadcastMessage(ctx, "e1", "test", map[string]string{"key": "value"}); err != nil {
		t.Errorf("BroadcastMessage failed with no clients: %v", err)
	}
}

// TestHub_BroadcastMessage_GivesUpWithContext tests that a stalled hub does not block callers forever
func TestHub_BroadcastMessage_GivesUpWithContext(t *testing.T) {
	hub := New(logger.Discard()) // never started
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- outbound{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := hub.Notify(ctx, services.Notification{Type: services.NotifyEventUpdated, EventID: "e1"})
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHub_ClientRegistration(t *testing.T) {
	hub := startHub(t)

	client := &Client{hub: hub, send: make(chan models.WSMessage, sendBuffer)}
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.unregister <- client
	waitForClients(t, hub, 0)

	if _, ok := <-client.send; !ok {
		t.Fatal("expected connected message before close")
	}
	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHub_StopsWithContext(t *testing.T) {
	hub := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)

	client := &Client{hub: hub, send: make(chan models.WSMessage, sendBuffer)}
	hub.register <- client
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)
}

func TestServeWs_ConnectedMessage(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	ws := dial(t, server, "?event=e1")
	msg := readMessage(t, ws)

	if msg.Type != "connected" {
		t.Fatalf("expected connected message, got %q", msg.Type)
	}
	payload, _ := msg.Payload.(map[string]interface{})
	if payload["eventId"] != "e1" {
		t.Errorf("expected eventId e1, got %v", msg.Payload)
	}
}

// TestServeWs_NotifyReachesWatchers tests that clients only see their event's changes
func TestServeWs_NotifyReachesWatchers(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	all := dial(t, server, "")
	watcher := dial(t, server, "?event=e1")
	other := dial(t, server, "?event=e2")
	for _, ws := range []*websocket.Conn{all, watcher, other} {
		readMessage(t, ws)
	}
	waitForClients(t, hub, 3)

	err := hub.Notify(context.Background(), services.Notification{
		Type:      services.NotifyStatusChanged,
		EventID:   "e1",
		EventName: "Hack Night",
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	for _, ws := range []*websocket.Conn{all, watcher} {
		msg := readMessage(t, ws)
		if msg.Type != services.NotifyStatusChanged {
			t.Errorf("expected %s, got %s", services.NotifyStatusChanged, msg.Type)
		}
		raw, _ := json.Marshal(msg.Payload)
		var n services.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			t.Fatalf("payload is not a notification: %v", err)
		}
		if n.EventID != "e1" || n.EventName != "Hack Night" {
			t.Errorf("unexpected payload %+v", n)
		}
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("expected client watching e2 to receive nothing")
	}
}

func TestServeWs_DisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	ws := dial(t, server, "")
	readMessage(t, ws)
	waitForClients(t, hub, 1)

	ws.Close()
	waitForClients(t, hub, 0)
}

func TestServeWs_RejectsPlainHTTP(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if hub.ClientCount() != 0 {
		t.Error("expected no clients")
	}
}
