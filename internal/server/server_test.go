package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"StakePool/internal/event"
	"StakePool/internal/ingestion"
	"StakePool/internal/observability"
	"StakePool/internal/server"
)

func newTestServer(t *testing.T, deps *server.ServerDeps) *httptest.Server {
	t.Helper()
	api, err := server.NewAPIServer("127.0.0.1:0", deps)
	if err != nil {
		t.Fatalf("NewAPIServer: %v", err)
	}
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestUserPositionRejectsBadUUID(t *testing.T) {
	ts := newTestServer(t, &server.ServerDeps{})

	resp, err := http.Get(ts.URL + "/v1/users/not-a-uuid/position")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestInjectDepositQueuesEvent(t *testing.T) {
	eventChan := make(chan event.Event, 1)
	ts := newTestServer(t, &server.ServerDeps{
		InjectService: ingestion.NewInjectService(eventChan),
	})

	userID := uuid.New()
	body := fmt.Sprintf(`{"user_id":%q,"amount":500,"sequence":1}`, userID)
	resp, err := http.Post(ts.URL+"/v1/inject/deposit", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	select {
	case evt := <-eventChan:
		dep, ok := evt.(*event.DepositRequested)
		if !ok {
			t.Fatalf("expected DepositRequested, got %T", evt)
		}
		if dep.UserID != userID {
			t.Errorf("user id = %s, want %s", dep.UserID, userID)
		}
		if dep.Amount != 500 {
			t.Errorf("amount = %d, want 500", dep.Amount)
		}
		if dep.Sequence != 1 {
			t.Errorf("sequence = %d, want 1", dep.Sequence)
		}
	default:
		t.Fatal("no event queued")
	}
}

func TestInjectDepositRejectsBadBody(t *testing.T) {
	eventChan := make(chan event.Event, 1)
	ts := newTestServer(t, &server.ServerDeps{
		InjectService: ingestion.NewInjectService(eventChan),
	})

	resp, err := http.Post(ts.URL+"/v1/inject/deposit", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(eventChan) != 0 {
		t.Error("event queued from invalid body")
	}
}

func TestInjectPauseQueuesEvent(t *testing.T) {
	eventChan := make(chan event.Event, 1)
	ts := newTestServer(t, &server.ServerDeps{
		InjectService: ingestion.NewInjectService(eventChan),
	})

	actorID := uuid.New()
	body := fmt.Sprintf(`{"actor_id":%q,"paused":true,"sequence":3}`, actorID)
	resp, err := http.Post(ts.URL+"/v1/inject/pause", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	evt := <-eventChan
	pause, ok := evt.(*event.PauseSet)
	if !ok {
		t.Fatalf("expected PauseSet, got %T", evt)
	}
	if !pause.Paused {
		t.Error("paused flag not set")
	}
	if pause.ActorID != actorID {
		t.Errorf("actor id = %s, want %s", pause.ActorID, actorID)
	}
}

func TestReadinessFlipsWithHealthChecker(t *testing.T) {
	hc := observability.NewHealthChecker()
	ts := newTestServer(t, &server.ServerDeps{HealthChecker: hc})

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", resp.StatusCode)
	}

	hc.SetReady(true)

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from liveness, got %d", resp.StatusCode)
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub := server.NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	hub.Broadcast(map[string]interface{}{
		"event_type": "DepositRequested",
		"sequence":   int64(7),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}

	var msg struct {
		EventType string `json:"event_type"`
		Sequence  int64  `json:"sequence"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if msg.EventType != "DepositRequested" {
		t.Errorf("event_type = %q, want DepositRequested", msg.EventType)
	}
	if msg.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", msg.Sequence)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := server.NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func waitForClients(t *testing.T, hub *server.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}
