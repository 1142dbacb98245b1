// Package client 是聊天服务端 HTTP API 的客户端。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"
)

const (
	defaultServerURL = "http://127.0.0.1:8080"
	defaultUserAgent = "ducklord-chat/0.1"
	requestTimeout   = 5 * time.Second
)

// ErrUnauthorized 表示服务端拒绝了会话 token。
var ErrUnauthorized = errors.New("unauthorized")

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Client 是未登录的 API 句柄。Login 返回携带 token 的 Session，其余操作都走 Session。
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// New 为 serverURL 创建 Client。serverURL 为空时使用本地默认地址。
func New(serverURL string) (*Client, error) {
	base, err := parseBaseURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: defaultUserAgent,
	}, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 创建账号，不登录。
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, &url.URL{Path: "/api/v1/auth/register"}, "", credentials{username, password}, nil)
}

// Login 校验凭据并返回 Session。同一账号之前的 token 随即失效。
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
			IsAdmin  bool   `json:"is_admin"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, &url.URL{Path: "/api/v1/auth/login"}, "", credentials{username, password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("login response missing token")
	}
	return &Session{client: c, Token: resp.Token, UserID: resp.User.ID, Username: resp.User.Username, IsAdmin: resp.User.IsAdmin}, nil
}

// Session 是已登录的句柄，实现了 chatsync.API。
type Session struct {
	client   *Client
	Token    string
	UserID   int64
	Username string
	IsAdmin  bool
}

type messageList struct {
	Messages []models.MessageView `json:"messages"`
}

// FetchHistory 返回最近 count 条消息，按时间从旧到新。
func (s *Session) FetchHistory(ctx context.Context, count int) ([]models.MessageView, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	var resp messageList
	if err := s.get(ctx, "/api/v1/messages/history", q, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// FetchSince 返回 id 大于 lastID 的全部消息。
func (s *Session) FetchSince(ctx context.Context, lastID int64) ([]models.MessageView, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(lastID, 10))
	var resp messageList
	if err := s.get(ctx, "/api/v1/messages/updates", q, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PostMessage 以当前用户身份发送消息。响应里不带消息本身，它会在之后的 FetchSince 中出现。
func (s *Session) PostMessage(ctx context.Context, text string) error {
	body := struct {
		Content string `json:"content"`
	}{text}
	return s.client.do(ctx, http.MethodPost, &url.URL{Path: "/api/v1/messages"}, s.Token, body, nil)
}

func (s *Session) ListUsernames(ctx context.Context) ([]string, error) {
	var resp struct {
		Users []string `json:"users"`
	}
	if err := s.get(ctx, "/api/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (s *Session) ListPresence(ctx context.Context) ([]models.UserStatus, error) {
	var resp struct {
		Statuses []models.UserStatus `json:"statuses"`
	}
	if err := s.get(ctx, "/api/v1/users/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

// Logout 让服务端吊销当前 token。
func (s *Session) Logout(ctx context.Context) error {
	return s.client.do(ctx, http.MethodPost, &url.URL{Path: "/api/v1/auth/logout"}, s.Token, nil, nil)
}

func (s *Session) get(ctx context.Context, path string, q url.Values, dest any) error {
	rel := &url.URL{Path: path}
	if q != nil {
		rel.RawQuery = q.Encode()
	}
	return s.client.do(ctx, http.MethodGet, rel, s.Token, nil, dest)
}

func (c *Client) do(ctx context.Context, method string, rel *url.URL, token string, body, dest any) error {
	reqURL := c.baseURL.ResolveReference(rel)
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(serverURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(serverURL)
	if trimmed == "" {
		trimmed = defaultServerURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server_url %q: %w", serverURL, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
