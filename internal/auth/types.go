// Package auth implements bearer-token authentication for the HTTP API.
package auth

import (
	"errors"
	"fmt"
)

// 认证子系统返回的通用错误。
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	// PermissionRead 允许查询任务与智能体。
	PermissionRead = "read"
	// PermissionWrite 允许提交消息。
	PermissionWrite = "write"
)

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, p := range s.Permissions {
		s.permissionsSet[p] = struct{}{}
	}
}

// Authorize 检查主体是否拥有全部所需权限。
func (s *Subject) Authorize(required ...string) error {
	if s == nil {
		return ErrPermissionDenied
	}
	s.normalise()
	for _, perm := range required {
		if _, ok := s.permissionsSet[perm]; !ok {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
