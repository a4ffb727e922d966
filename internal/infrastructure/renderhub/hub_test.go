package renderhub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestPushSeqDeliversToConnectedClient(t *testing.T) {
	hub := New(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now()
	for hub.ClientCount() == 0 {
		if time.Now().Sub(deadline) > time.Second {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	hub.PushSeq(42)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg pingMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", msg.Seq)
	}
}

func TestClientCountDropsOnDisconnect(t *testing.T) {
	hub := New(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now()
	for hub.ClientCount() == 0 {
		if time.Now().Sub(deadline) > time.Second {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()

	deadline = time.Now()
	for hub.ClientCount() != 0 {
		if time.Now().Sub(deadline) > time.Second {
			t.Fatal("client count never dropped to zero after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPushSeqWithNoClientsDoesNotBlock(t *testing.T) {
	hub := New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		hub.PushSeq(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushSeq blocked with no clients connected")
	}
}
