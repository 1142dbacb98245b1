package models

import (
	"strings"
	"time"
)

// OnlineWindow 是默认的在线判定窗口：超过该时长没有活动即视为离线。
const OnlineWindow = 5 * time.Second

// Account 是注册用户。ID 一经分配不可变，Username 大小写不敏感唯一。
type Account struct {
	ID           int64
	Username     string
	Password     string // 不透明凭据，只用于比较
	IsAdmin      bool
	SessionToken string
	LastActivity time.Time
}

// Key 返回用户名索引使用的归一化键。
func (a Account) Key() string { return UsernameKey(a.Username) }

// Online 根据最后活动时间实时计算在线状态，不做缓存。
func (a Account) Online(now time.Time, window time.Duration) bool {
	if a.LastActivity.IsZero() {
		return false
	}
	return now.Sub(a.LastActivity) < window
}

// UsernameKey 把用户名归一化为索引键。
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ChatMessage 是日志中的一条消息，插入后不可修改。
type ChatMessage struct {
	ID        int64
	SenderID  int64
	Content   string
	Timestamp time.Time
}

// MessageView 是对外输出的消息数据，发送者已解析为用户名。
type MessageView struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestampUtc"`
}

// UserStatus 是用户名与在线状态的组合。
type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}
