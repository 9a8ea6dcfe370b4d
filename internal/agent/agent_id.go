package agent

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateAgentID 生成应答端实例ID
// 优先使用环境变量HOSTLINK_AGENT_ID，否则生成UUID
func GenerateAgentID() string {
	if id := os.Getenv("HOSTLINK_AGENT_ID"); id != "" {
		return id
	}

	// 生成格式：hostlink-{hostname}-{uuid}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("hostlink-%s-%s", hostname, shortUUID)
}
