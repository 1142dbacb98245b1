package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/discovicke/DucklordChatking/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// HashCost 是 bcrypt 的代价参数。测试可以调低它。
var HashCost = bcrypt.DefaultCost

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), HashCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Issuer 签发和校验会话 token。token 是带随机 jti 的 HS256 JWT，
// 是否仍然有效以注册表中的 token 索引为准。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为账号签发新 token，签名与 store.TokenIssuer 一致。
func (i *Issuer) Issue(accountID int64) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(accountID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// TokenResolver 把 token 解析为当前持有它的账号。
type TokenResolver interface {
	ResolveToken(token string) (models.Account, bool)
}

func AuthMiddleware(issuer *Issuer, resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := issuer.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		acc, ok := resolver.ResolveToken(tokenStr)
		if !ok || acc.ID != claims.UserID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session revoked"})
			return
		}
		c.Set("account", acc)
		c.Next()
	}
}

// BearerToken 从 Authorization 头或 token 查询参数中取出 token，后者供 websocket 使用。
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return c.Query("token")
}

func GetAccount(c *gin.Context) (models.Account, bool) {
	if v, ok := c.Get("account"); ok {
		if acc, ok2 := v.(models.Account); ok2 {
			return acc, true
		}
	}
	return models.Account{}, false
}

// IsSelfOrAdmin 判断 caller 是否可以操作 target 账号：本人或管理员。
func IsSelfOrAdmin(caller models.Account, targetUsername string) bool {
	if caller.ID == 0 {
		return false
	}
	return caller.IsAdmin || models.UsernameKey(caller.Username) == models.UsernameKey(targetUsername)
}
