package store

import (
	"context"
	"sync"
	"time"
)

// Notifier 是日志变更信号。Notify 会唤醒调用时刻所有正在等待的协程；
// 之后才开始等待的协程看不到这次通知。
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Changed 返回当前这一代的信号 channel，下一次 Notify 时被关闭。
// 先取 channel 再查询数据，可以避免查询与等待之间漏掉通知。
func (n *Notifier) Changed() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// Notify 唤醒所有当前等待者。
func (n *Notifier) Notify() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// Wait 阻塞直到下一次 Notify、超时或 ctx 结束。只有被通知时返回 true。
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) bool {
	return WaitOn(ctx, n.Changed(), timeout)
}

// WaitOn 等待一个已取得的 Changed channel。
func WaitOn(ctx context.Context, changed <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-changed:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
