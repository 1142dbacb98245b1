// Package chatsync 让客户端的本地消息列表与服务端保持同步：后台生产者轮询新消息，
// 唯一的消费者（界面）按自己的节奏合并。
package chatsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval     = 150 * time.Millisecond
	DefaultHistoryCount = 50
	sendTimeout         = 5 * time.Second
)

// API 是同步循环依赖的服务端操作，client.Session 实现了它。
type API interface {
	FetchHistory(ctx context.Context, count int) ([]models.MessageView, error)
	FetchSince(ctx context.Context, lastID int64) ([]models.MessageView, error)
	PostMessage(ctx context.Context, text string) error
}

type State int32

const (
	Idle State = iota
	LoadingHistory
	Ready
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingHistory:
		return "loading-history"
	case Ready:
		return "ready"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

type Option func(*Loop)

// WithInterval 设置两次拉取之间的间隔。
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithHistoryCount(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.historyCount = n
		}
	}
}

// OnChanged 注册消息列表变化的回调，在 ProcessIncoming 所在的协程里调用，每次合并最多一次。
func OnChanged(fn func()) Option {
	return func(l *Loop) { l.onChanged = fn }
}

// WithWake 提供一个提示 channel：收到信号时立即拉取，不等间隔结束。
func WithWake(wake <-chan int64) Option {
	return func(l *Loop) { l.wake = wake }
}

// Loop 是客户端的同步循环。
//
// 只有交接队列会被两个协程访问。cursor 和 messages 只属于消费者协程：
// LoadChatHistory、StartPolling、ProcessIncoming 必须在同一个协程里调用。
// 生产者维护自己的拉取水位，消费者的 cursor 只在合并时前进。
type Loop struct {
	api          API
	interval     time.Duration
	historyCount int
	onChanged    func()
	wake         <-chan int64

	state atomic.Int32
	queue Queue[models.MessageView]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	sends  sync.WaitGroup
	base   context.Context
	stop   context.CancelFunc

	// 消费者协程独占。
	messages []models.MessageView
	cursor   int64
}

func New(api API, opts ...Option) *Loop {
	l := &Loop{api: api, interval: DefaultInterval, historyCount: DefaultHistoryCount}
	for _, opt := range opts {
		opt(l)
	}
	l.base, l.stop = context.WithCancel(context.Background())
	return l
}

func (l *Loop) State() State { return State(l.state.Load()) }

// LoadChatHistory 拉取最近的一段历史并把 cursor 设为其中最大的 id。成功之后再调用是空操作。
// StopPolling 会取消正在进行的加载。
func (l *Loop) LoadChatHistory(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(Idle), int32(LoadingHistory)) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(l.base, cancel)
	defer unhook()

	msgs, err := l.api.FetchHistory(ctx, l.historyCount)
	if err != nil {
		// 加载期间可能已被 StopPolling 置为 Stopped，只回退 LoadingHistory。
		l.state.CompareAndSwap(int32(LoadingHistory), int32(Idle))
		return err
	}
	l.merge(msgs)
	l.state.CompareAndSwap(int32(LoadingHistory), int32(Ready))
	return nil
}

// StartPolling 启动后台拉取。历史尚未加载、已经在拉取或已停止时返回 false。
func (l *Loop) StartPolling() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.CompareAndSwap(int32(Ready), int32(Polling)) {
		return false
	}
	ctx, cancel := context.WithCancel(l.base)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.cursor, l.done)
	return true
}

// StopPolling 取消后台拉取并等待它以及在途的发送退出；返回之后不会再有网络请求。
// 可以从任意协程调用，可重复调用。
func (l *Loop) StopPolling() {
	l.mu.Lock()
	l.state.Store(int32(Stopped))
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	l.stop()
	if cancel != nil {
		cancel()
		<-done
	}
	l.sends.Wait()
}

func (l *Loop) run(ctx context.Context, highWater int64, done chan struct{}) {
	defer close(done)
	wake := l.wake
	for {
		if ctx.Err() != nil {
			return
		}
		highWater = l.pollOnce(ctx, highWater)

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case _, ok := <-wake:
			timer.Stop()
			if !ok {
				wake = nil
			}
		}
	}
}

// pollOnce 做一轮增量拉取，把比水位新的消息放进队列，返回新的水位。出错时记录日志并保持水位不变。
func (l *Loop) pollOnce(ctx context.Context, highWater int64) int64 {
	msgs, err := l.api.FetchSince(ctx, highWater)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Int64("after", highWater).Msg("poll failed, retrying")
		}
		return highWater
	}
	fresh := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		if m.ID > highWater {
			fresh = append(fresh, m)
			highWater = m.ID
		}
	}
	l.queue.Push(fresh...)
	return highWater
}

// ProcessIncoming 把队列里的消息合并进本地列表并推进 cursor。
// 有新消息时调用一次 OnChanged 回调并返回 true。
func (l *Loop) ProcessIncoming() bool {
	if !l.merge(l.queue.Drain()) {
		return false
	}
	if l.onChanged != nil {
		l.onChanged()
	}
	return true
}

// merge 按 id 单调合并，id 不大于 cursor 的消息被忽略。
func (l *Loop) merge(batch []models.MessageView) bool {
	added := false
	for _, m := range batch {
		if m.ID <= l.cursor {
			continue
		}
		l.messages = append(l.messages, m)
		l.cursor = m.ID
		added = true
	}
	return added
}

// SendMessage 异步发送消息，不在本地插入副本：消息由下一轮拉取带回。
// 文本为空或循环已停止时返回 false。
func (l *Loop) SendMessage(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	l.mu.Lock()
	if l.State() == Stopped {
		l.mu.Unlock()
		return false
	}
	l.sends.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.sends.Done()
		ctx, cancel := context.WithTimeout(l.base, sendTimeout)
		defer cancel()
		if err := l.api.PostMessage(ctx, text); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("send message failed")
		}
	}()
	return true
}

// Messages 返回本地消息列表的副本。
func (l *Loop) Messages() []models.MessageView {
	out := make([]models.MessageView, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Loop) Cursor() int64 { return l.cursor }
