package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// TokenAuthenticator 使用静态令牌校验请求。未配置任何令牌时认证关闭。
type TokenAuthenticator struct {
	tokens []tokenEntry
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewTokenAuthenticator 创建认证器。
func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{}
}

// AddToken 注册一个令牌及其主体；空令牌会被忽略。
func (a *TokenAuthenticator) AddToken(token string, subject Subject) *TokenAuthenticator {
	token = strings.TrimSpace(token)
	if token == "" {
		return a
	}
	a.tokens = append(a.tokens, tokenEntry{digest: sha256.Sum256([]byte(token)), subject: subject})
	return a
}

// Enabled 表示是否需要认证。
func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && len(a.tokens) > 0
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (a *TokenAuthenticator) AuthenticateRequest(authorization string) (*Subject, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	for _, entry := range a.tokens {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			subject := entry.subject
			subject.permissionsSet = nil
			return &subject, nil
		}
	}
	return nil, ErrInvalidToken
}
