package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 正常服务
	StatusDegraded  Status = "degraded"  // 部分受损，仍可应答命令
	StatusUnhealthy Status = "unhealthy" // 无法服务
)

// CheckResult 单项检查结果
type CheckResult struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 健康检查器
// 链路与分区清单各实现一个，由聚合器并发执行；
// Check 必须快速返回，就绪探针会按请求频率反复调用
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
