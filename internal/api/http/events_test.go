package httpapi

import (
	stdcontext "context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SamirTalwar/sandcastles/internal/engine"
)

func TestHandleEventsStreamsUntilClosed(t *testing.T) {
	events := make(chan engine.Event, 2)
	cancelled := make(chan struct{})
	ctrl := &mockController{
		subscribeFn: func(stdcontext.Context) (<-chan engine.Event, func(), error) {
			return events, func() { close(cancelled) }, nil
		},
	}
	server := newTestServer(t, ctrl)

	ts := httptest.NewServer(http.HandlerFunc(server.handleEvents))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	events <- engine.Event{Type: engine.EventTypeReady, Name: "db", State: engine.StateRunning}

	var received engine.Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("read: %v", err)
	}
	if received.Type != engine.EventTypeReady || received.Name != "db" {
		t.Fatalf("unexpected event: %+v", received)
	}

	// closing the feed ends the stream and releases the subscription
	close(events)
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the stream to close after the feed ended")
	}
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was never released")
	}
}
