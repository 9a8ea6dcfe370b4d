package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/hostlink/internal/slot"
)

// SlotChecker 槽位清单健康检查器
type SlotChecker struct {
	store slot.Store
}

// NewSlotChecker 创建槽位健康检查器
func NewSlotChecker(store slot.Store) *SlotChecker {
	return &SlotChecker{store: store}
}

// Name 返回检查器名称
func (c *SlotChecker) Name() string {
	return "slots"
}

// Check 执行健康检查
func (c *SlotChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	// 1. 清单可读性
	slots, err := c.store.List()
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("manifest unreadable: %v", err),
			Latency: time.Since(start),
		}
	}

	if len(slots) == 0 {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "no slots defined",
			Latency: time.Since(start),
		}
	}

	// 2. 统计可引导槽位
	bootable := 0
	for _, sl := range slots {
		if sl.Bootable {
			bootable++
		}
	}

	status := StatusHealthy
	message := "ok"

	if bootable == 0 {
		status = StatusDegraded
		message = "no bootable slot"
	}

	details := map[string]interface{}{
		"slots":    len(slots),
		"bootable": bootable,
	}

	// 3. 当前运行槽位（解析失败降级，状态查询仍可带unknown返回）
	running, err := c.store.Running()
	if err != nil {
		if status == StatusHealthy {
			status = StatusDegraded
			message = "running slot unresolved"
		}
	} else {
		details["running"] = running.Label
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
