package security

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	TOKEN_KEY = "Authorization"

	// 32 random bytes encode to 43 chars in unpadded base64url
	SHARE_TOKEN_RAW_LEN = 32
	SHARE_TOKEN_LEN     = 43
)

var shareTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// GenerateShareToken 生成分享链接 bearer token，256bit 随机熵
func GenerateShareToken() (string, error) {
	buf := make([]byte, SHARE_TOKEN_RAW_LEN)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read crypto random source, %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateShareTokenFormat 纯格式校验，不触发任何存储访问。
// 长度或字符集不符的输入在查库之前就地拒绝。
func ValidateShareTokenFormat(candidate string) bool {
	if len(candidate) != SHARE_TOKEN_LEN {
		return false
	}
	return shareTokenPattern.MatchString(candidate)
}

// ShareTokenHasher derives the storage lookup key of a raw share token.
// The pepper is operator configuration and never persisted next to link rows,
// so a leaked table cannot be reversed into usable tokens.
type ShareTokenHasher struct {
	pepper []byte
}

func NewShareTokenHasher(pepper string) *ShareTokenHasher {
	return &ShareTokenHasher{pepper: []byte(pepper)}
}

func (h *ShareTokenHasher) Hash(token string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

type TokenClaims struct {
	Appid      string            `json:"aid"`
	AppName    string            `json:"an"`
	User       string            `json:"u"` // 对应平台的用户唯一标识
	Fields     map[string]string `json:"f"` // unsafe
	ExpireTime int64             `json:"exp"` // 过期时间 时间戳
	NotBefore  int64             `json:"nbf"` // 生效时间 时间戳
}

const (
	ROLE_KEY = "role"
)

func NewTokenClaims(appid, appName, userID, role string, expireTime int64) TokenClaims {
	return TokenClaims{
		Appid:   appid,
		AppName: appName,
		User:    userID,
		Fields: map[string]string{
			ROLE_KEY: role,
		},
		ExpireTime: expireTime,
		NotBefore:  time.Now().Unix() - 1,
	}
}

func (t TokenClaims) GetRole() string {
	return t.Field(ROLE_KEY)
}

func (t TokenClaims) GetUser() string {
	return t.User
}

func (t TokenClaims) Field(key string) string {
	if t.Fields == nil {
		return ""
	}
	return t.Fields[key]
}

var ErrInvalidJWT = errors.New("invalid token")

func GenerateJWT(info TokenClaims, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"aid": info.Appid,
		"an":  info.AppName,
		"u":   info.User,
		"f":   info.Fields,
		"exp": info.ExpireTime,
		"nbf": info.NotBefore,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func VerifyToken(tokenString string, secret []byte) (*TokenClaims, error) {
	result := &TokenClaims{}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v, %w", t.Header["alg"], ErrInvalidJWT)
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidJWT
	}

	if v, ok := claims["aid"].(string); ok {
		result.Appid = v
	}
	if v, ok := claims["an"].(string); ok {
		result.AppName = v
	}
	if v, ok := claims["u"].(string); ok {
		result.User = v
	}
	if v, ok := claims["exp"].(float64); ok {
		result.ExpireTime = int64(v)
	}
	if v, ok := claims["nbf"].(float64); ok {
		result.NotBefore = int64(v)
	}
	if fields, ok := claims["f"].(map[string]interface{}); ok {
		result.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			if s, ok := v.(string); ok {
				result.Fields[k] = s
			}
		}
	}

	now := time.Now().Unix()
	if result.ExpireTime < now || result.NotBefore > now {
		return nil, fmt.Errorf("expired token, %w", ErrInvalidJWT)
	}

	return result, nil
}
