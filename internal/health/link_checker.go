package health

import (
	"context"
	"time"
)

// DispatchState 调度循环状态视图
type DispatchState interface {
	State() string
	LastExchange() time.Time
}

// LinkChecker 总线调度循环健康检查器
type LinkChecker struct {
	disp    DispatchState
	alive   func() bool
	maxIdle time.Duration
}

// NewLinkChecker 创建总线健康检查器
// maxIdle 为 0 时不做空闲判定
func NewLinkChecker(disp DispatchState, alive func() bool, maxIdle time.Duration) *LinkChecker {
	return &LinkChecker{disp: disp, alive: alive, maxIdle: maxIdle}
}

// Name 返回检查器名称
func (c *LinkChecker) Name() string {
	return "link"
}

// Check 执行健康检查
func (c *LinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	// 调度循环已退出则无法服务
	if c.alive != nil && !c.alive() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "dispatch loop stopped",
			Latency: time.Since(start),
		}
	}

	state := c.disp.State()
	last := c.disp.LastExchange()

	// 尚未发生任何总线事务：控制端可能还没接入，属于正常等待
	if last.IsZero() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "awaiting first transaction",
			Details: map[string]interface{}{
				"state": state,
			},
			Latency: time.Since(start),
		}
	}

	idle := time.Since(last)

	status := StatusHealthy
	message := "ok"

	if c.maxIdle > 0 && idle > c.maxIdle {
		status = StatusDegraded
		message = "no recent transactions"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"state":         state,
			"last_exchange": last,
			"idle":          idle.String(),
		},
		Latency: time.Since(start),
	}
}
