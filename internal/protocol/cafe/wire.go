package cafe

import "fmt"

// 链路常量
// 每次总线事务交换一个定长缓冲区：帧头7字节，其余为载荷区
const (
	DefaultCapacity = 2048
	HeaderSize      = 7
)

// 同步标记 0xCA 0xFE，所有帧的前两个字节
const (
	syncByte0 = 0xCA
	syncByte1 = 0xFE
)

// 命令码
const (
	CmdStatusQuery  byte = 0x19 // 查询设备状态
	CmdReboot       byte = 0x1A // 立即重启
	CmdRebootToSlot byte = 0x1B // 切换启动分区并重启
)

// 帧内偏移
// 主动方向：sync(2) + cmd(1) + arg0(1)
// 应答方向：sync(2) + cmd(1) + remaining(4, 小端) + payload
const (
	offCmd     = 2
	offArg0    = 3
	offRemain  = 3
	offPayload = HeaderSize
)

// ChunkCapacity 单帧可携带的载荷字节数
func ChunkCapacity(capacity int) int { return capacity - HeaderSize }

// CommandName 命令码的可读名称，用于日志与指标标签
func CommandName(cmd byte) string {
	switch cmd {
	case CmdStatusQuery:
		return "status_query"
	case CmdReboot:
		return "reboot"
	case CmdRebootToSlot:
		return "reboot_to_slot"
	default:
		return fmt.Sprintf("0x%02X", cmd)
	}
}
