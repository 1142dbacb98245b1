package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultHistoryCount = 50

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc     *service.UserService
	msgSvc      *service.MessageService
	longPollMax time.Duration
}

func NewHandler(userSvc *service.UserService, msgSvc *service.MessageService, longPollMax time.Duration) *Handler {
	return &Handler{userSvc: userSvc, msgSvc: msgSvc, longPollMax: longPollMax}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// fail 把 service 层的哨兵错误映射为 HTTP 状态码，未知错误记日志后返回 500。
func fail(c *gin.Context, op string, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidContent):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidSender):
		status = http.StatusUnprocessableEntity
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.userSvc.CreateAccount(req.Username, req.Password); err != nil {
		fail(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

// Login 处理用户登录请求，成功后旧 token 失效。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	token, acc, err := h.userSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		fail(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  gin.H{"id": acc.ID, "username": acc.Username, "is_admin": acc.IsAdmin},
	})
}

func (h *Handler) Logout(c *gin.Context) {
	acc, _ := auth.GetAccount(c)
	h.userSvc.Logout(acc)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.userSvc.ListUsernames()})
}

func (h *Handler) ListStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": h.userSvc.ListPresence()})
}

// UpdateUser 修改用户名或密码，空字段表示不修改。
func (h *Handler) UpdateUser(c *gin.Context) {
	var req struct {
		OldUsername string `json:"old_username"`
		NewUsername string `json:"new_username"`
		Password    string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OldUsername == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	acc, _ := auth.GetAccount(c)
	if err := h.userSvc.UpdateAccount(acc, req.OldUsername, req.NewUsername, req.Password); err != nil {
		fail(c, "update user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	acc, _ := auth.GetAccount(c)
	if err := h.userSvc.DeleteAccount(acc, c.Param("username")); err != nil {
		fail(c, "delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostMessage 以当前登录账号的身份发送消息。返回 202：消息由下一次增量拉取带回。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	acc, _ := auth.GetAccount(c)
	if err := h.msgSvc.PostMessage(acc.Username, req.Content); err != nil {
		fail(c, "post message", err)
		return
	}
	c.Status(http.StatusAccepted)
}

// History 返回最近 count 条消息。
func (h *Handler) History(c *gin.Context) {
	count := defaultHistoryCount
	if v := c.Query("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		count = n
	}
	msgs, err := h.msgSvc.FetchHistory(count)
	if err != nil {
		fail(c, "fetch history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Updates 返回 id 大于 after 的消息。wait_ms 大于 0 时为长轮询，上限为配置的 LongPollMax。
func (h *Handler) Updates(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
		return
	}
	waitMS, err := strconv.Atoi(c.DefaultQuery("wait_ms", "0"))
	if err != nil || waitMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait_ms"})
		return
	}
	wait := time.Duration(waitMS) * time.Millisecond
	if wait > h.longPollMax {
		wait = h.longPollMax
	}
	msgs, err := h.msgSvc.WaitSince(c.Request.Context(), after, wait)
	if err != nil {
		fail(c, "fetch updates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	acc, _ := auth.GetAccount(c)
	if err := h.msgSvc.DeleteMessage(acc, id); err != nil {
		fail(c, "delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearMessages(c *gin.Context) {
	acc, _ := auth.GetAccount(c)
	if err := h.msgSvc.ClearMessages(acc); err != nil {
		fail(c, "clear messages", err)
		return
	}
	c.Status(http.StatusNoContent)
}
