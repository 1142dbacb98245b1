package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/discovicke/DucklordChatking/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ChangeSource 是消息日志的变更信号，MessageService 实现了它。
type ChangeSource interface {
	Changed() <-chan struct{}
	LastID() int64
}

// Event 是推送给订阅者的变更提示。客户端收到后仍通过增量拉取同步消息。
type Event struct {
	Type   string `json:"type"`
	LastID int64  `json:"last_id"`
}

// Hub 把日志变更广播给所有已连接的事件流。只有 run 协程访问 clients。
type Hub struct {
	src        ChangeSource
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	online     int32
}

func NewHub(src ChangeSource) *Hub {
	return &Hub{
		src:        src,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 运行广播循环直到 ctx 结束，结束时关闭所有客户端的发送队列。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	changed := h.src.Changed()
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			atomic.StoreInt32(&h.online, int32(len(h.clients)))
			metrics.EventStreams.Inc()
			// 新连接先收到当前位置。
			h.send(c, h.event())
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}
		case <-changed:
			// 先换新 channel 再读 LastID，之后的写入一定会再次触发。
			changed = h.src.Changed()
			evt := h.event()
			for c := range h.clients {
				h.send(c, evt)
			}
		}
	}
}

func (h *Hub) event() []byte {
	b, err := json.Marshal(Event{Type: "changed", LastID: h.src.LastID()})
	if err != nil {
		log.Error().Err(err).Msg("marshal change event")
	}
	return b
}

// send 不阻塞：发送队列已满的客户端被踢掉，由它自己重连后重新同步。
func (h *Hub) send(c *Client, b []byte) {
	select {
	case c.send <- b:
	default:
		log.Warn().Str("username", c.username).Msg("event stream too slow, dropping")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.EventStreams.Dec()
}

// Online 返回当前连接的事件流数量。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
