package cafe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	"github.com/taoyao-code/hostlink/internal/metrics"
)

// 调度循环状态
const (
	StateAwait      = "await_transaction"
	StateProcessing = "processing"
)

// Dispatcher 应答端调度循环
// 持有一对定长缓冲区，整个生命周期复用，不按次分配
type Dispatcher struct {
	link  *link
	table *Table
	log   *zap.Logger

	tx []byte
	rx []byte

	sender *ChunkSender

	processing   atomic.Bool
	lastExchange atomic.Int64
}

// NewDispatcher 构造调度循环，capacity 是单次事务的缓冲区大小
func NewDispatcher(b bus.Transactor, l bus.Line, table *Table, capacity int, log *zap.Logger, met *metrics.AppMetrics) *Dispatcher {
	lk := &link{bus: b, line: l, met: met}
	d := &Dispatcher{
		link:  lk,
		table: table,
		log:   log,
		tx:    make([]byte, capacity),
		rx:    make([]byte, capacity),
	}
	d.sender = &ChunkSender{link: lk, tx: d.tx, rx: d.rx, log: log}
	// 发送缓冲先放一帧空应答，首次交换回给控制端的数据就有合法同步标记
	_, _ = EncodeResponse(d.tx, 0, 0, nil)
	return d
}

// SendChunked 实现 ResponseWriter，与循环共用同一对缓冲区
func (d *Dispatcher) SendChunked(cmd byte, payload []byte) error {
	return d.sender.Send(cmd, payload)
}

// State 当前循环状态，用于健康检查与调试接口
func (d *Dispatcher) State() string {
	if d.processing.Load() {
		return StateProcessing
	}
	return StateAwait
}

// LastExchange 最近一次完成总线事务的时间，零值表示尚未有事务
func (d *Dispatcher) LastExchange() time.Time {
	ns := d.lastExchange.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run 运行调度循环，直到 ctx 取消或链路关闭
// 帧校验失败时原缓冲区重新提交等待下一次事务；分片发送因回显
// 校验中止时跳过一次交换，先把发送期间残留的回读数据当作可能的
// 新请求来检查
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("调度循环启动",
		zap.Int("capacity", len(d.tx)),
		zap.Int("chunk_capacity", ChunkCapacity(len(d.tx))))
	needExchange := true
	lastN := 0
	for {
		if ctx.Err() != nil {
			d.log.Info("调度循环退出")
			return nil
		}
		if needExchange {
			d.processing.Store(false)
			n, err := d.link.exchange(d.tx, d.rx)
			if err != nil {
				if errors.Is(err, bus.ErrClosed) {
					if ctx.Err() != nil {
						d.log.Info("调度循环退出")
						return nil
					}
					return fmt.Errorf("dispatch loop: %w", err)
				}
				d.log.Error("总线事务失败", zap.Error(err))
				continue
			}
			lastN = n
			d.lastExchange.Store(time.Now().UnixNano())
		}
		needExchange = true
		d.processing.Store(true)

		req, err := d.decode(lastN)
		if err != nil {
			reason := framingReason(err)
			if d.link.met != nil {
				d.link.met.FramingErrorTotal.WithLabelValues(reason).Inc()
			}
			d.log.Warn("帧校验失败，重新提交缓冲区",
				zap.String("reason", reason),
				zap.Int("len", lastN))
			continue
		}

		name := CommandName(req.Command)
		err = d.table.Route(ctx, req, d)
		if d.link.met != nil && !errors.Is(err, ErrNoHandler) {
			d.link.met.CommandTotal.WithLabelValues(name).Inc()
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrNoHandler):
			if d.link.met != nil {
				d.link.met.UnknownCmdTotal.Inc()
			}
			d.log.Warn("未注册命令", zap.String("cmd", name))
		case errors.Is(err, ErrEchoMismatch):
			// 控制端可能已经转而发出新请求，残留的回读数据下一轮直接复查
			lastN = d.sender.LastExchangeLen()
			needExchange = false
			d.log.Warn("应答中止，复查残留缓冲区", zap.String("cmd", name), zap.Error(err))
		default:
			d.log.Error("命令处理失败", zap.String("cmd", name), zap.Error(err))
		}
	}
}

func (d *Dispatcher) decode(n int) (*Request, error) {
	if n != len(d.rx) {
		return nil, fmt.Errorf("%w: transaction length %d, want %d", ErrShort, n, len(d.rx))
	}
	return DecodeRequest(d.rx)
}

func framingReason(err error) string {
	if errors.Is(err, ErrBadSync) {
		return "sync"
	}
	return "short"
}
