package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	"github.com/taoyao-code/hostlink/internal/bus/membus"
	"github.com/taoyao-code/hostlink/internal/bus/serialbus"
	"github.com/taoyao-code/hostlink/internal/bus/tcpbus"
	cfgpkg "github.com/taoyao-code/hostlink/internal/config"
	"github.com/taoyao-code/hostlink/internal/health"
	"github.com/taoyao-code/hostlink/internal/httpserver"
	"github.com/taoyao-code/hostlink/internal/metrics"
	"github.com/taoyao-code/hostlink/internal/power"
	"github.com/taoyao-code/hostlink/internal/protocol/cafe"
	"github.com/taoyao-code/hostlink/internal/slot"
)

// endpoint 总线端点：调度循环同时需要事务与握手线
type endpoint interface {
	bus.Transactor
	bus.Line
}

// Agent hostlink 应答端进程
type Agent struct {
	cfg *cfgpkg.Config
	log *zap.Logger

	id        string
	startedAt time.Time

	appm           *metrics.AppMetrics
	metricsHandler http.Handler
	ready          *health.Readiness
	agg            *health.Aggregator
	store          *slot.FileStore
	restarter      power.Restarter
	disp           *cafe.Dispatcher

	ep       endpoint
	closeBus func() error
	memPair  *membus.Pair

	httpSrv *httpserver.Server

	loopExited atomic.Bool

	stopC chan struct{}
	stopO sync.Once
}

// New 按配置组装应答端的全部组件，总线传输在此处打开
func New(cfg *cfgpkg.Config, log *zap.Logger) (*Agent, error) {
	a := &Agent{
		cfg:       cfg,
		log:       log,
		id:        GenerateAgentID(),
		startedAt: time.Now(),
		stopC:     make(chan struct{}),
	}

	// ========== 阶段1: 基础组件 ==========
	reg := metrics.NewRegistry()
	a.appm = metrics.NewAppMetrics(reg)
	a.metricsHandler = metrics.Handler(reg)
	a.ready = health.New()
	log.Info("基础组件就绪", zap.String("agent_id", a.id))

	// ========== 阶段2: 分区清单与重启器 ==========
	a.store = slot.NewFileStore(cfg.Slots.Manifest)
	if _, err := a.store.List(); err != nil {
		// 清单缺失不阻止启动，状态查询会带unknown返回
		log.Warn("分区清单暂不可读", zap.String("path", cfg.Slots.Manifest), zap.Error(err))
	} else {
		a.ready.SetSlotsReady(true)
	}
	restarter, err := power.New(cfg.Power.Mode, cfg.Power.Command, log)
	if err != nil {
		return nil, fmt.Errorf("init restarter: %w", err)
	}
	a.restarter = restarter
	log.Info("分区清单与重启器就绪",
		zap.String("manifest", cfg.Slots.Manifest),
		zap.String("power_mode", cfg.Power.Mode))

	// ========== 阶段3: 总线传输 ==========
	if err := a.openBus(); err != nil {
		return nil, err
	}

	// ========== 阶段4: 命令路由与调度循环 ==========
	table := cafe.NewTable()
	handlers := &cafe.Handlers{
		Slots:           a.store,
		Power:           a.restarter,
		HardwareVersion: cfg.Device.HardwareVersion,
		FirmwareVersion: cfg.Device.FirmwareVersion,
		Log:             log,
		Met:             a.appm,
	}
	handlers.Register(table)
	a.disp = cafe.NewDispatcher(a.ep, a.ep, table, cfg.Link.Capacity, log, a.appm)

	// ========== 阶段5: 健康检查 ==========
	a.agg = health.NewAggregator(
		health.NewLinkChecker(a.disp, func() bool { return !a.loopExited.Load() }, 0),
		health.NewSlotChecker(a.store),
	)
	return a, nil
}

func (a *Agent) openBus() error {
	switch a.cfg.Link.Transport {
	case cfgpkg.TransportTCP:
		srv := tcpbus.New(a.cfg.Link.TCP, a.cfg.Link.Capacity, a.log, a.appm)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start tcp bridge: %w", err)
		}
		a.ep, a.closeBus = srv, srv.Close
	case cfgpkg.TransportSerial:
		srv := serialbus.New(a.cfg.Link.Serial, a.cfg.Link.Capacity, a.log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start serial bridge: %w", err)
		}
		a.ep, a.closeBus = srv, srv.Close
	case cfgpkg.TransportMem:
		pair := membus.New(a.cfg.Link.Capacity)
		a.memPair = pair
		a.ep, a.closeBus = pair.Device(), pair.Close
	default:
		return fmt.Errorf("unknown link transport %q", a.cfg.Link.Transport)
	}
	a.log.Info("总线传输就绪",
		zap.String("transport", a.cfg.Link.Transport),
		zap.Int("capacity", a.cfg.Link.Capacity))
	return nil
}

// Run 启动调度循环与HTTP服务，阻塞直到退出信号、Stop 或链路意外关闭
func (a *Agent) Run() error {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	loopDone := make(chan error, 1)
	go func() {
		err := a.disp.Run(loopCtx)
		a.loopExited.Store(true)
		loopDone <- err
	}()
	a.ready.SetLinkReady(true)

	// ========== 阶段6: HTTP 服务 ==========
	if a.cfg.HTTP.Enable {
		var mh http.Handler
		if a.cfg.Metrics.Enable {
			mh = a.metricsHandler
		}
		a.httpSrv = httpserver.New(a.cfg.HTTP, a.cfg.Metrics.Path, mh, a.agg, a.ready, a.statusSnapshot)
		go func() {
			if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("HTTP服务异常", zap.Error(err))
			}
		}()
		a.log.Info("HTTP服务已启动", zap.String("addr", a.cfg.HTTP.Addr))
	}
	a.log.Info("应答端就绪，等待控制端事务")

	// ========== 阶段7: 等待退出 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	loopStopped := false
	select {
	case sig := <-sigCh:
		a.log.Info("收到退出信号，开始优雅停机", zap.String("signal", sig.String()))
	case <-a.stopC:
		a.log.Info("收到停止请求，开始优雅停机")
	case runErr = <-loopDone:
		loopStopped = true
		if runErr != nil {
			a.log.Error("调度循环意外退出", zap.Error(runErr))
		}
	}

	// 先断总线再等循环收尾
	loopCancel()
	if err := a.closeBus(); err != nil {
		a.log.Warn("关闭总线失败", zap.Error(err))
	}
	if !loopStopped {
		select {
		case err := <-loopDone:
			if runErr == nil {
				runErr = err
			}
		case <-time.After(5 * time.Second):
			a.log.Warn("调度循环退出超时")
		}
	}
	a.log.Info("调度循环已停止")

	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.httpSrv.Shutdown(ctx)
		a.log.Info("HTTP服务已停止")
	}

	a.log.Info("停机完成")
	return runErr
}

// Stop 触发优雅停机（幂等）
func (a *Agent) Stop() {
	a.stopO.Do(func() { close(a.stopC) })
}

// ID 实例标识
func (a *Agent) ID() string { return a.id }

// LinkAddr TCP桥接的实际监听地址（其他传输为空串）
func (a *Agent) LinkAddr() string {
	if srv, ok := a.ep.(*tcpbus.Server); ok {
		return srv.Addr()
	}
	return ""
}

// MemController 内存总线的控制端端点（仅 mem 传输，其他为 nil）
func (a *Agent) MemController() *membus.Controller {
	if a.memPair == nil {
		return nil
	}
	return a.memPair.Controller()
}

func (a *Agent) statusSnapshot() map[string]interface{} {
	st := map[string]interface{}{
		"agent_id":  a.id,
		"uptime":    time.Since(a.startedAt).String(),
		"state":     a.disp.State(),
		"transport": a.cfg.Link.Transport,
		"capacity":  a.cfg.Link.Capacity,
	}
	if addr := a.LinkAddr(); addr != "" {
		st["link_addr"] = addr
	}
	if last := a.disp.LastExchange(); !last.IsZero() {
		st["last_exchange"] = last
	}
	if run, err := a.store.Running(); err == nil {
		st["running_slot"] = run.Label
	}
	if next, ok, err := a.store.Next(); err == nil && ok {
		st["next_slot"] = next.Label
	}
	return st
}
