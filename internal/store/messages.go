package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrMissingSender 表示消息引用的发送者已不存在，属于数据一致性被破坏，而不是普通的查无此人。
var ErrMissingSender = errors.New("message references a missing sender")

type messageTable struct {
	list   []*models.ChatMessage // 按 id 升序，等于插入顺序
	byID   map[int64]*models.ChatMessage
	nextID int64
}

// MessageLog 是按 id 有序、只追加的消息日志。
//
// 加锁顺序固定为 MessageLog → UserRegistry：日志在持有自己的锁时会去读注册表解析发送者，
// 注册表永远不会反过来访问日志。
type MessageLog struct {
	g      *Guarded[*messageTable]
	users  *UserRegistry
	notify *Notifier
	now    func() time.Time
}

func NewMessageLog(users *UserRegistry, notify *Notifier) *MessageLog {
	if notify == nil {
		notify = NewNotifier()
	}
	return &MessageLog{
		g: NewGuarded("messages", &messageTable{
			byID:   make(map[int64]*models.ChatMessage),
			nextID: 1,
		}),
		users:  users,
		notify: notify,
		now:    time.Now,
	}
}

// Notifier 返回日志使用的变更信号。
func (l *MessageLog) Notifier() *Notifier { return l.notify }

// Add 以 username 的身份追加一条消息。用户名为空、内容为空白或发送者不存在时返回 false。
// 成功写入后触发变更通知。
func (l *MessageLog) Add(username, content string) bool {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(content) == "" {
		log.Warn().Str("username", username).Msg("add message: invalid parameters")
		return false
	}
	added := false
	_ = l.g.Update("add message", func(t *messageTable) error {
		sender, ok := l.users.GetByUsername(username)
		if !ok {
			log.Warn().Str("username", username).Msg("add message: unknown sender")
			return nil
		}
		msg := &models.ChatMessage{
			ID:        t.nextID,
			SenderID:  sender.ID,
			Content:   content,
			Timestamp: l.now().UTC(),
		}
		t.nextID++
		t.list = append(t.list, msg)
		t.byID[msg.ID] = msg
		added = true
		return nil
	})
	// 写锁释放后再通知：被唤醒的读者立刻拿读锁，此时新消息已经可见。
	if added {
		l.notify.Notify()
	}
	return added
}

// GetAll 返回全部消息。任一发送者无法解析时返回 ErrMissingSender。
func (l *MessageLog) GetAll() ([]models.MessageView, error) {
	var out []models.MessageView
	err := l.g.View("get all messages", func(t *messageTable) error {
		var err error
		out, err = l.views(t.list)
		return err
	})
	return out, err
}

// GetLast 返回最后 min(n, 总数) 条消息，保持原有顺序。n<=0 返回空。
func (l *MessageLog) GetLast(n int) ([]models.MessageView, error) {
	if n <= 0 {
		return []models.MessageView{}, nil
	}
	var out []models.MessageView
	err := l.g.View("get last messages", func(t *messageTable) error {
		start := len(t.list) - n
		if start < 0 {
			start = 0
		}
		var err error
		out, err = l.views(t.list[start:])
		return err
	})
	return out, err
}

// GetAfter 返回所有 id > lastSeenID 的消息，按 id 升序。它是增量同步的基础。
func (l *MessageLog) GetAfter(lastSeenID int64) ([]models.MessageView, error) {
	var out []models.MessageView
	err := l.g.View("get messages after", func(t *messageTable) error {
		var tail []*models.ChatMessage
		for _, m := range t.list {
			if m.ID > lastSeenID {
				tail = append(tail, m)
			}
		}
		var err error
		out, err = l.views(tail)
		return err
	})
	return out, err
}

// LastID 返回当前最大的消息 id，日志为空时为 0。
func (l *MessageLog) LastID() int64 {
	var id int64
	_ = l.g.View("last message id", func(t *messageTable) error {
		if n := len(t.list); n > 0 {
			id = t.list[n-1].ID
		}
		return nil
	})
	return id
}

// RemoveByID 删除一条消息，列表和 id 索引同时更新。
func (l *MessageLog) RemoveByID(id int64) bool {
	removed := false
	_ = l.g.Update("remove message", func(t *messageTable) error {
		if _, ok := t.byID[id]; !ok {
			log.Warn().Int64("message_id", id).Msg("remove message: not found")
			return nil
		}
		i := sort.Search(len(t.list), func(i int) bool { return t.list[i].ID >= id })
		t.list = append(t.list[:i], t.list[i+1:]...)
		delete(t.byID, id)
		removed = true
		return nil
	})
	return removed
}

// ClearAll 清空所有消息。id 计数器不回退，已分配的 id 不会被复用。
func (l *MessageLog) ClearAll() bool {
	_ = l.g.Update("clear messages", func(t *messageTable) error {
		t.list = nil
		t.byID = make(map[int64]*models.ChatMessage)
		return nil
	})
	return true
}

// Len 返回消息数量。
func (l *MessageLog) Len() int {
	n := 0
	_ = l.g.View("count messages", func(t *messageTable) error {
		n = len(t.list)
		return nil
	})
	return n
}

func (l *MessageLog) views(msgs []*models.ChatMessage) ([]models.MessageView, error) {
	out := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := l.users.GetByID(m.SenderID)
		if !ok {
			return nil, fmt.Errorf("message %d sender %d: %w", m.ID, m.SenderID, ErrMissingSender)
		}
		out = append(out, models.MessageView{
			ID:        m.ID,
			Sender:    sender.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}
