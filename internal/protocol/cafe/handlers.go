package cafe

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/metrics"
	"github.com/taoyao-code/hostlink/internal/slot"
)

// slotAPI 分区清单访问，抽象便于单测替换
type slotAPI interface {
	List() ([]slot.Slot, error)
	Running() (slot.Slot, error)
	SetNext(slot.Slot) error
}

// powerAPI 设备重启能力
type powerAPI interface {
	Restart(ctx context.Context) error
}

// DeviceStatus 状态查询的应答文档
type DeviceStatus struct {
	HWV string `json:"HWV"`
	FWV string `json:"FWV"`
	OTA string `json:"OTA"`
}

// Handlers 命令处理集合
type Handlers struct {
	Slots slotAPI
	Power powerAPI

	HardwareVersion string
	FirmwareVersion string

	Log *zap.Logger
	Met *metrics.AppMetrics
}

// Register 把全部命令挂到路由表
func (h *Handlers) Register(t *Table) {
	t.Register(CmdStatusQuery, h.HandleStatusQuery)
	t.Register(CmdReboot, h.HandleReboot)
	t.Register(CmdRebootToSlot, h.HandleRebootToSlot)
}

// HandleStatusQuery 打包设备状态并分片回送
// 分区清单读取失败时 OTA 字段降级为 unknown，查询本身不失败
func (h *Handlers) HandleStatusQuery(ctx context.Context, req *Request, w ResponseWriter) error {
	st := DeviceStatus{
		HWV: h.HardwareVersion,
		FWV: h.FirmwareVersion,
		OTA: "unknown",
	}
	if h.Slots != nil {
		run, err := h.Slots.Running()
		if err != nil {
			h.Log.Warn("读取运行分区失败", zap.Error(err))
		} else {
			st.OTA = run.Label
		}
	}
	body, err := json.Marshal(st)
	if err != nil {
		// 打包失败只记录，不回送任何数据
		h.Log.Error("状态文档序列化失败", zap.Error(err))
		return nil
	}
	return w.SendChunked(req.Command, body)
}

// HandleReboot 立即重启，不回送应答
func (h *Handlers) HandleReboot(ctx context.Context, req *Request, w ResponseWriter) error {
	h.Log.Info("收到重启命令")
	if h.Met != nil {
		h.Met.RebootTotal.WithLabelValues("immediate").Inc()
	}
	return h.Power.Restart(ctx)
}

// HandleRebootToSlot 切换到第 arg0 个可启动分区并重启
// arg0 是可启动子序列里的序号（0 起算），枚举时跳过不可启动分区；
// 序号越界时只记录，不执行重启
func (h *Handlers) HandleRebootToSlot(ctx context.Context, req *Request, w ResponseWriter) error {
	slots, err := h.Slots.List()
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	want := int(req.Arg0)
	var chosen *slot.Slot
	bootable := 0
	for i := range slots {
		if !slots[i].Bootable {
			continue
		}
		if bootable == want {
			chosen = &slots[i]
			break
		}
		bootable++
	}
	if chosen == nil {
		if h.Met != nil {
			h.Met.SlotRejectTotal.Inc()
		}
		h.Log.Warn("启动分区序号越界，忽略重启请求",
			zap.Int("requested", want),
			zap.Int("slots", len(slots)))
		return nil
	}
	if err := h.Slots.SetNext(*chosen); err != nil {
		return fmt.Errorf("set next slot: %w", err)
	}
	h.Log.Info("切换启动分区",
		zap.String("label", chosen.Label),
		zap.Int("slot_index", chosen.Index),
		zap.Int("requested", want))
	if h.Met != nil {
		h.Met.RebootTotal.WithLabelValues("slot").Inc()
	}
	return h.Power.Restart(ctx)
}
