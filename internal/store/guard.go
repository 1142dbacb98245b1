package store

import (
	"sync"
	"time"

	"github.com/discovicke/DucklordChatking/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Guarded 用读写锁包裹一份共享状态，所有访问都必须经由 View 或 Update。
//
// 读操作可以并发执行；写操作独占。底层是 sync.RWMutex：有写者排队时新的读者会被阻塞，
// 因此持续的读压力不会让写者饿死。
//
// 锁不可重入：在 fn 内再次对同一个 Guarded 调用 View/Update 会死锁。需要组合的内部
// 逻辑应直接操作 fn 拿到的状态，而不是再次加锁。
type Guarded[T any] struct {
	name  string
	mu    sync.RWMutex
	state T
}

// NewGuarded 创建一个以 name 标识的受保护状态，name 只用于日志和指标。
func NewGuarded[T any](name string, state T) *Guarded[T] {
	return &Guarded[T]{name: name, state: state}
}

// View 在读锁下执行 fn。fn 返回的错误原样返回；fn 中的 panic 会在释放锁之后继续向上传播。
func (g *Guarded[T]) View(label string, fn func(T) error) error {
	start := time.Now()
	g.mu.RLock()
	metrics.StoreLockWait.WithLabelValues(g.name, "read").Observe(time.Since(start).Seconds())
	defer g.mu.RUnlock()
	defer g.trace("read", label)
	return g.logErr("read", label, fn(g.state))
}

// Update 在写锁下执行 fn，语义同 View。
func (g *Guarded[T]) Update(label string, fn func(T) error) error {
	start := time.Now()
	g.mu.Lock()
	metrics.StoreLockWait.WithLabelValues(g.name, "write").Observe(time.Since(start).Seconds())
	defer g.mu.Unlock()
	defer g.trace("write", label)
	return g.logErr("write", label, fn(g.state))
}

func (g *Guarded[T]) trace(kind, label string) {
	if r := recover(); r != nil {
		log.Error().Str("store", g.name).Str("kind", kind).Str("op", label).Interface("panic", r).Msg("guarded operation panicked")
		panic(r)
	}
}

func (g *Guarded[T]) logErr(kind, label string, err error) error {
	if err != nil {
		log.Error().Err(err).Str("store", g.name).Str("kind", kind).Str("op", label).Msg("guarded operation failed")
	}
	return err
}
