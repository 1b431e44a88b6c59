package auth

import (
	stdErrors "errors"
	"log/slog"
	"net/http"

	"Kurashi-Agents/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限列表，"*" 为缺省。
	RequiredPermissions map[string][]string
}

// DefaultPermissions 读接口需要 read，其余方法需要 write。
var DefaultPermissions = map[string][]string{
	http.MethodGet: {PermissionRead},
	"*":            {PermissionWrite},
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (a *TokenAuthenticator) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := a.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				deny(w, r, http.StatusUnauthorized, err, "")
				return
			}
			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				deny(w, r, http.StatusForbidden, err, subject.Name)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, err error, user string) {
	if stdErrors.Is(err, ErrMissingToken) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="kurashi"`)
	}
	http.Error(w, http.StatusText(status), status)
	logger.Audit().Warn("access denied",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("user", user),
	)
}
