package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type changeEvent struct {
	Type   string `json:"type"`
	LastID int64  `json:"last_id"`
}

// Subscribe 打开服务端的变更事件流。每个事件带着服务端最新的消息 id；
// 读得慢时会错过中间的 id，但不会错过最新的。ctx 结束或连接断开时关闭 channel。
func (s *Session) Subscribe(ctx context.Context) (<-chan int64, error) {
	u := s.client.baseURL.ResolveReference(&url.URL{Path: "/ws/events"})
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token)
	header.Set("User-Agent", s.client.userAgent)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	out := make(chan int64, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			var evt changeEvent
			if err := conn.ReadJSON(&evt); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("event stream closed")
				}
				return
			}
			if evt.Type != "changed" {
				continue
			}
			// 只保留最新的 id。
			select {
			case out <- evt.LastID:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- evt.LastID:
				default:
				}
			}
		}
	}()
	return out, nil
}
