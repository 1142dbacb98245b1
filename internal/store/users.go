package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TokenIssuer 为指定账号生成一个新的会话 token。
type TokenIssuer func(accountID int64) (string, error)

// RandomToken 是默认的 TokenIssuer，生成随机 uuid。
func RandomToken(int64) (string, error) { return uuid.NewString(), nil }

// userTable 以 id 为主表，用户名和 token 只是指向 id 的二级索引。
type userTable struct {
	accounts map[int64]*models.Account
	byName   map[string]int64
	byToken  map[string]int64
	nextID   int64
}

// UserRegistry 管理账号、会话 token 与在线状态。
type UserRegistry struct {
	g      *Guarded[*userTable]
	issue  TokenIssuer
	now    func() time.Time
	window time.Duration
}

type RegistryOption func(*UserRegistry)

func WithTokenIssuer(issue TokenIssuer) RegistryOption {
	return func(r *UserRegistry) { r.issue = issue }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *UserRegistry) { r.now = now }
}

func WithOnlineWindow(d time.Duration) RegistryOption {
	return func(r *UserRegistry) {
		if d > 0 {
			r.window = d
		}
	}
}

func NewUserRegistry(opts ...RegistryOption) *UserRegistry {
	r := &UserRegistry{
		g: NewGuarded("users", &userTable{
			accounts: make(map[int64]*models.Account),
			byName:   make(map[string]int64),
			byToken:  make(map[string]int64),
		}),
		issue:  RandomToken,
		now:    time.Now,
		window: models.OnlineWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add 注册新账号。用户名（大小写不敏感）已存在、用户名为空或 token 冲突时返回 false 且不做任何修改。
// token 为空时自动生成。
func (r *UserRegistry) Add(username, password string, isAdmin bool, token string) bool {
	username = strings.TrimSpace(username)
	key := models.UsernameKey(username)
	if key == "" {
		return false
	}
	added := false
	_ = r.g.Update("add user", func(t *userTable) error {
		if _, taken := t.byName[key]; taken {
			return nil
		}
		id := t.nextID + 1
		if token == "" {
			tok, err := r.issue(id)
			if err != nil {
				log.Warn().Err(err).Str("username", username).Msg("issue session token")
				return nil
			}
			token = tok
		}
		if _, clash := t.byToken[token]; clash {
			return nil
		}
		t.nextID = id
		t.accounts[id] = &models.Account{
			ID:           id,
			Username:     username,
			Password:     password,
			IsAdmin:      isAdmin,
			SessionToken: token,
		}
		t.byName[key] = id
		t.byToken[token] = id
		added = true
		return nil
	})
	return added
}

// Update 重命名账号并可选地修改密码。newUsername 为空时保持原用户名，newPassword 为空时保持原密码。
// oldUsername 不存在或新用户名已被他人占用时返回 false。
func (r *UserRegistry) Update(oldUsername, newUsername, newPassword string) bool {
	oldKey := models.UsernameKey(oldUsername)
	newUsername = strings.TrimSpace(newUsername)
	updated := false
	_ = r.g.Update("update user", func(t *userTable) error {
		id, ok := t.byName[oldKey]
		if !ok {
			return nil
		}
		acc := t.accounts[id]
		if newUsername != "" {
			newKey := models.UsernameKey(newUsername)
			if owner, taken := t.byName[newKey]; taken && owner != id {
				return nil
			}
			delete(t.byName, oldKey)
			t.byName[newKey] = id
			acc.Username = newUsername
		}
		if newPassword != "" {
			acc.Password = newPassword
		}
		updated = true
		return nil
	})
	return updated
}

// RemoveByUsername 删除账号，三个索引在同一个写锁内一起删除。
func (r *UserRegistry) RemoveByUsername(username string) bool {
	key := models.UsernameKey(username)
	removed := false
	_ = r.g.Update("remove user by name", func(t *userTable) error {
		if id, ok := t.byName[key]; ok {
			removed = t.remove(id)
		}
		return nil
	})
	return removed
}

// RemoveByID 按 id 删除账号。
func (r *UserRegistry) RemoveByID(id int64) bool {
	removed := false
	_ = r.g.Update("remove user by id", func(t *userTable) error {
		removed = t.remove(id)
		return nil
	})
	return removed
}

func (t *userTable) remove(id int64) bool {
	acc, ok := t.accounts[id]
	if !ok {
		return false
	}
	delete(t.accounts, id)
	delete(t.byName, acc.Key())
	if acc.SessionToken != "" {
		delete(t.byToken, acc.SessionToken)
	}
	return true
}

func (r *UserRegistry) GetByUsername(username string) (models.Account, bool) {
	key := models.UsernameKey(username)
	return r.lookup("get user by name", func(t *userTable) (int64, bool) {
		id, ok := t.byName[key]
		return id, ok
	})
}

func (r *UserRegistry) GetByID(id int64) (models.Account, bool) {
	return r.lookup("get user by id", func(*userTable) (int64, bool) { return id, true })
}

func (r *UserRegistry) GetBySessionToken(token string) (models.Account, bool) {
	if token == "" {
		return models.Account{}, false
	}
	return r.lookup("get user by token", func(t *userTable) (int64, bool) {
		id, ok := t.byToken[token]
		return id, ok
	})
}

// lookup 返回账号副本，调用方无法绕过锁修改注册表。
func (r *UserRegistry) lookup(label string, find func(*userTable) (int64, bool)) (models.Account, bool) {
	var (
		out   models.Account
		found bool
	)
	_ = r.g.View(label, func(t *userTable) error {
		id, ok := find(t)
		if !ok {
			return nil
		}
		if acc, ok := t.accounts[id]; ok {
			out, found = *acc, true
		}
		return nil
	})
	return out, found
}

// GetAllUsernames 返回所有用户名的快照，按 id 升序。
func (r *UserRegistry) GetAllUsernames() []string {
	var names []string
	_ = r.g.View("list usernames", func(t *userTable) error {
		for _, acc := range t.sorted() {
			names = append(names, acc.Username)
		}
		return nil
	})
	return names
}

// GetAllStatuses 返回每个账号及其实时计算的在线状态。
func (r *UserRegistry) GetAllStatuses() []models.UserStatus {
	var out []models.UserStatus
	_ = r.g.View("list statuses", func(t *userTable) error {
		now := r.now()
		for _, acc := range t.sorted() {
			out = append(out, models.UserStatus{Username: acc.Username, Online: acc.Online(now, r.window)})
		}
		return nil
	})
	return out
}

func (t *userTable) sorted() []*models.Account {
	list := make([]*models.Account, 0, len(t.accounts))
	for _, acc := range t.accounts {
		list = append(list, acc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// AssignNewSessionToken 为账号换发 token。旧 token 的映射在同一个写锁内先删除再写入新映射，
// 外部永远看不到同一账号的两个 token。
func (r *UserRegistry) AssignNewSessionToken(id int64) (string, bool) {
	var token string
	_ = r.g.Update("assign session token", func(t *userTable) error {
		acc, ok := t.accounts[id]
		if !ok {
			return nil
		}
		tok, err := r.issue(id)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("issue session token")
			return nil
		}
		if owner, clash := t.byToken[tok]; clash && owner != id {
			return nil
		}
		if acc.SessionToken != "" {
			delete(t.byToken, acc.SessionToken)
		}
		acc.SessionToken = tok
		t.byToken[tok] = id
		token = tok
		return nil
	})
	return token, token != ""
}

// RevokeSessionToken 撤销账号当前的 token，用于登出。
func (r *UserRegistry) RevokeSessionToken(id int64) bool {
	revoked := false
	_ = r.g.Update("revoke session token", func(t *userTable) error {
		acc, ok := t.accounts[id]
		if !ok || acc.SessionToken == "" {
			return nil
		}
		delete(t.byToken, acc.SessionToken)
		acc.SessionToken = ""
		revoked = true
		return nil
	})
	return revoked
}

// Touch 把账号的最后活动时间更新为当前时间。
func (r *UserRegistry) Touch(id int64) bool {
	touched := false
	_ = r.g.Update("touch user", func(t *userTable) error {
		if acc, ok := t.accounts[id]; ok {
			acc.LastActivity = r.now().UTC()
			touched = true
		}
		return nil
	})
	return touched
}

// Len 返回账号数量。
func (r *UserRegistry) Len() int {
	n := 0
	_ = r.g.View("count users", func(t *userTable) error {
		n = len(t.accounts)
		return nil
	})
	return n
}

// check 校验三个索引相互一致，测试中在每次结构性修改后调用。
func (r *UserRegistry) check() error {
	return r.g.View("check indexes", func(t *userTable) error {
		if len(t.byName) != len(t.accounts) {
			return fmt.Errorf("username index has %d entries for %d accounts", len(t.byName), len(t.accounts))
		}
		tokens := 0
		for id, acc := range t.accounts {
			if acc.ID != id {
				return fmt.Errorf("account %d stored under id %d", acc.ID, id)
			}
			if t.byName[acc.Key()] != id {
				return fmt.Errorf("username %q does not map to account %d", acc.Username, id)
			}
			if acc.SessionToken != "" {
				tokens++
				if t.byToken[acc.SessionToken] != id {
					return fmt.Errorf("token of account %d is not indexed", id)
				}
			}
		}
		if tokens != len(t.byToken) {
			return fmt.Errorf("token index has %d entries, accounts hold %d", len(t.byToken), tokens)
		}
		return nil
	})
}
