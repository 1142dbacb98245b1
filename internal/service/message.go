package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/discovicke/DucklordChatking/internal/metrics"
	"github.com/discovicke/DucklordChatking/internal/models"
	"github.com/discovicke/DucklordChatking/internal/store"
)

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	users        *store.UserRegistry
	log          *store.MessageLog
	historyLimit int
	maxLength    int
}

func NewMessageService(users *store.UserRegistry, log *store.MessageLog, historyLimit, maxLength int) *MessageService {
	return &MessageService{users: users, log: log, historyLimit: historyLimit, maxLength: maxLength}
}

// PostMessage 以 username 身份发送消息。调用方不能假设消息立即可见，应等待下一次增量拉取。
func (s *MessageService) PostMessage(username, text string) error {
	if strings.TrimSpace(text) == "" || (s.maxLength > 0 && utf8.RuneCountInString(text) > s.maxLength) {
		return ErrInvalidContent
	}
	if _, ok := s.users.GetByUsername(username); !ok {
		return ErrInvalidSender
	}
	if !s.log.Add(username, text) {
		// 发送者在检查之后被删除。
		return ErrInvalidSender
	}
	metrics.MessagesPostedTotal.Inc()
	return nil
}

// FetchHistory 返回最近 count 条消息，count 超过上限时按上限截断。
func (s *MessageService) FetchHistory(count int) ([]models.MessageView, error) {
	if s.historyLimit > 0 && count > s.historyLimit {
		count = s.historyLimit
	}
	return s.log.GetLast(count)
}

// FetchSince 返回 id 大于 lastID 的所有消息。
func (s *MessageService) FetchSince(lastID int64) ([]models.MessageView, error) {
	return s.countPoll(s.log.GetAfter(lastID))
}

// WaitSince 是 FetchSince 的长轮询版本：没有新消息时最多等待 wait，期间有写入则立即返回。
func (s *MessageService) WaitSince(ctx context.Context, lastID int64, wait time.Duration) ([]models.MessageView, error) {
	if wait <= 0 {
		return s.FetchSince(lastID)
	}
	changed := s.log.Notifier().Changed()
	msgs, err := s.log.GetAfter(lastID)
	if err != nil || len(msgs) > 0 {
		return s.countPoll(msgs, err)
	}
	if !store.WaitOn(ctx, changed, wait) {
		return s.countPoll([]models.MessageView{}, nil)
	}
	return s.FetchSince(lastID)
}

func (s *MessageService) countPoll(msgs []models.MessageView, err error) ([]models.MessageView, error) {
	if err != nil {
		metrics.PollRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.PollRequestsTotal.WithLabelValues(result(msgs)).Inc()
	return msgs, nil
}

func result(msgs []models.MessageView) string {
	if len(msgs) == 0 {
		return "empty"
	}
	return "messages"
}

// LastID 返回最新消息的 id。
func (s *MessageService) LastID() int64 { return s.log.LastID() }

// Changed 返回日志当前的变更信号。
func (s *MessageService) Changed() <-chan struct{} { return s.log.Notifier().Changed() }

// DeleteMessage 删除单条消息，仅管理员可用。
func (s *MessageService) DeleteMessage(caller models.Account, id int64) error {
	if !caller.IsAdmin {
		return ErrForbidden
	}
	if !s.log.RemoveByID(id) {
		return ErrNotFound
	}
	return nil
}

// ClearMessages 清空消息日志，仅管理员可用。
func (s *MessageService) ClearMessages(caller models.Account) error {
	if !caller.IsAdmin {
		return ErrForbidden
	}
	s.log.ClearAll()
	return nil
}
