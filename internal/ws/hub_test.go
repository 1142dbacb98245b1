package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"
	"github.com/discovicke/DucklordChatking/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeSource struct {
	n    *store.Notifier
	last atomic.Int64
}

func newFakeSource() *fakeSource { return &fakeSource{n: store.NewNotifier()} }

func (f *fakeSource) Changed() <-chan struct{} { return f.n.Changed() }

func (f *fakeSource) LastID() int64 { return f.last.Load() }

func (f *fakeSource) post(id int64) {
	f.last.Store(id)
	f.n.Notify()
}

func recv(t *testing.T, ch <-chan []byte) Event {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatal("send channel closed")
		}
		var evt Event
		if err := json.Unmarshal(b, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	src := newFakeSource()
	src.last.Store(3)
	hub := NewHub(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := &Client{hub: hub, send: make(chan []byte, 4), username: "duck"}
	b := &Client{hub: hub, send: make(chan []byte, 4), username: "goose"}
	if !hub.join(a) || !hub.join(b) {
		t.Fatal("join() = false on a running hub")
	}
	if evt := recv(t, a.send); evt.Type != "changed" || evt.LastID != 3 {
		t.Errorf("initial event = %+v, want changed/3", evt)
	}
	recv(t, b.send)
	if hub.Online() != 2 {
		t.Errorf("Online() = %d, want 2", hub.Online())
	}

	src.post(4)
	for _, c := range []*Client{a, b} {
		if evt := recv(t, c.send); evt.LastID != 4 {
			t.Errorf("%s got last_id %d, want 4", c.username, evt.LastID)
		}
	}

	hub.leave(a)
	if _, ok := <-a.send; ok {
		t.Error("send channel still open after leave")
	}
	if hub.Online() != 1 {
		t.Errorf("Online() after leave = %d, want 1", hub.Online())
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	src := newFakeSource()
	hub := NewHub(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &Client{hub: hub, send: make(chan []byte, 1), username: "slow"}
	hub.join(slow)
	// 初始事件占满队列，下一次广播时被踢掉。
	src.post(1)

	deadline := time.Now().Add(time.Second)
	for hub.Online() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Online() != 0 {
		t.Fatalf("Online() = %d, want slow client dropped", hub.Online())
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(newFakeSource())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.join(c)
	recv(t, c.send)
	cancel()
	if _, ok := <-c.send; ok {
		t.Error("send channel still open after hub stopped")
	}
	if hub.join(&Client{hub: hub, send: make(chan []byte, 1)}) {
		t.Error("join() = true on a stopped hub")
	}
}

func TestServe_WebsocketStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := newFakeSource()
	hub := NewHub(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws/events", func(c *gin.Context) {
		c.Set("account", models.Account{ID: 1, Username: "duck"})
	}, Serve(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	read := func() Event {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return evt
	}
	if evt := read(); evt.LastID != 0 {
		t.Errorf("initial event = %+v, want last_id 0", evt)
	}
	src.post(9)
	if evt := read(); evt.Type != "changed" || evt.LastID != 9 {
		t.Errorf("event = %+v, want changed/9", evt)
	}
}
