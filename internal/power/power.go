package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// Restarter 设备重启能力
type Restarter interface {
	Restart(ctx context.Context) error
}

// 重启方式
const (
	ModeExec = "exec"
	ModeNoop = "noop"
)

// New 按配置构造重启器
func New(mode string, command []string, log *zap.Logger) (Restarter, error) {
	switch mode {
	case ModeExec:
		if len(command) == 0 {
			command = []string{"/sbin/reboot"}
		}
		return &ExecRestarter{Command: command, Log: log}, nil
	case ModeNoop:
		return &NoopRestarter{Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown power mode %q", mode)
	}
}

// ExecRestarter 调用系统命令重启
type ExecRestarter struct {
	Command []string
	Log     *zap.Logger
}

func (r *ExecRestarter) Restart(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("empty restart command")
	}
	r.Log.Warn("执行重启命令", zap.Strings("command", r.Command))
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart command: %w (%s)", err, out)
	}
	return nil
}

// NoopRestarter 只记录不执行，用于联调与回环环境
type NoopRestarter struct {
	Log *zap.Logger
}

func (r *NoopRestarter) Restart(ctx context.Context) error {
	r.Log.Warn("收到重启请求（noop 模式，不执行）")
	return nil
}
