package service

import (
	"strings"
	"unicode/utf8"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/models"
	"github.com/discovicke/DucklordChatking/internal/store"

	"github.com/rs/zerolog/log"
)

// UserService 封装账号、登录和在线状态相关的业务逻辑。
type UserService struct {
	users *store.UserRegistry
}

func NewUserService(users *store.UserRegistry) *UserService {
	return &UserService{users: users}
}

func validUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= 2 && n <= 64
}

func validPassword(password string) bool {
	return len(password) >= 4 && len(password) <= 72
}

// CreateAccount 注册普通账号。
func (s *UserService) CreateAccount(username, password string) error {
	return s.create(username, password, false)
}

// CreateAdmin 注册管理员账号，用于启动时的种子账号。
func (s *UserService) CreateAdmin(username, password string) error {
	return s.create(username, password, true)
}

func (s *UserService) create(username, password string, isAdmin bool) error {
	username = strings.TrimSpace(username)
	if !validUsername(username) || !validPassword(password) {
		return ErrInvalidInput
	}
	// 哈希在加锁之前完成，bcrypt 很慢，不能放在写锁里。
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if !s.users.Add(username, hash, isAdmin, "") {
		return ErrUsernameTaken
	}
	return nil
}

// Authenticate 校验用户名密码并换发新的会话 token，旧 token 随即失效。
func (s *UserService) Authenticate(username, password string) (string, models.Account, error) {
	acc, ok := s.users.GetByUsername(username)
	if !ok || !auth.VerifyPassword(acc.Password, password) {
		return "", models.Account{}, ErrInvalidCredentials
	}
	token, ok := s.users.AssignNewSessionToken(acc.ID)
	if !ok {
		// 账号在校验和换发之间被删除。
		return "", models.Account{}, ErrInvalidCredentials
	}
	s.users.Touch(acc.ID)
	acc.SessionToken = token
	return token, acc, nil
}

// Logout 撤销账号当前的 token。
func (s *UserService) Logout(acc models.Account) {
	s.users.RevokeSessionToken(acc.ID)
}

// ResolveToken 返回持有 token 的账号，并把它记为活跃。
func (s *UserService) ResolveToken(token string) (models.Account, bool) {
	acc, ok := s.users.GetBySessionToken(token)
	if !ok {
		return models.Account{}, false
	}
	s.users.Touch(acc.ID)
	return acc, true
}

func (s *UserService) ListUsernames() []string {
	names := s.users.GetAllUsernames()
	if names == nil {
		names = []string{}
	}
	return names
}

func (s *UserService) ListPresence() []models.UserStatus {
	statuses := s.users.GetAllStatuses()
	if statuses == nil {
		statuses = []models.UserStatus{}
	}
	return statuses
}

// UpdateAccount 修改用户名和/或密码，只有本人或管理员可以操作。
func (s *UserService) UpdateAccount(caller models.Account, oldUsername, newUsername, newPassword string) error {
	if !auth.IsSelfOrAdmin(caller, oldUsername) {
		return ErrForbidden
	}
	newUsername = strings.TrimSpace(newUsername)
	if newUsername != "" && !validUsername(newUsername) {
		return ErrInvalidInput
	}
	if newUsername == "" && newPassword == "" {
		return ErrInvalidInput
	}
	if _, ok := s.users.GetByUsername(oldUsername); !ok {
		return ErrNotFound
	}
	hash := ""
	if newPassword != "" {
		if !validPassword(newPassword) {
			return ErrInvalidInput
		}
		var err error
		if hash, err = auth.HashPassword(newPassword); err != nil {
			return err
		}
	}
	if !s.users.Update(oldUsername, newUsername, hash) {
		if _, ok := s.users.GetByUsername(oldUsername); !ok {
			return ErrNotFound
		}
		return ErrUsernameTaken
	}
	log.Info().Int64("caller_id", caller.ID).Str("old", oldUsername).Str("new", newUsername).Msg("account updated")
	return nil
}

// DeleteAccount 删除账号，只有本人或管理员可以操作。
func (s *UserService) DeleteAccount(caller models.Account, username string) error {
	if !auth.IsSelfOrAdmin(caller, username) {
		return ErrForbidden
	}
	if !s.users.RemoveByUsername(username) {
		return ErrNotFound
	}
	log.Info().Int64("caller_id", caller.ID).Str("username", username).Msg("account deleted")
	return nil
}
