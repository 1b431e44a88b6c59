package dispatch

import (
	"context"
	"fmt"

	xerrors "Kurashi-Agents/internal/errors"
)

// RecoveryHandler 定义了任务最终失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回发送给用户的降级回复；返回空字符串表示不回复。
	Recover(ctx context.Context, job *Job, cause error) (string, error)
}

// ApologyRecovery 向用户回复一条带错误码的致歉消息。
type ApologyRecovery struct{}

// Recover 实现 RecoveryHandler。
func (ApologyRecovery) Recover(_ context.Context, _ *Job, cause error) (string, error) {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	return fmt.Sprintf("すみません、処理中にエラーが発生しました（%s）。しばらくしてからもう一度お試しください。", code), nil
}
