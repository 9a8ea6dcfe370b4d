package serialbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	cfgpkg "github.com/taoyao-code/hostlink/internal/config"
)

// xfer 一次待配对的总线事务
type xfer struct {
	tx   []byte
	rx   []byte
	done chan xferResult
}

type xferResult struct {
	n   int
	err error
}

// Server 把总线事务桥接到串口的应答端。
// 与 tcpbus 同构：实现 bus.Transactor 与 bus.Line，远端控制端
// 通过同一套桥接报文驱动事务。串口故障时自动重开。
type Server struct {
	cfg      cfgpkg.SerialBridgeConfig
	capacity int
	log      *zap.Logger

	// 测试注入点
	openPort func(*serial.Config) (serial.Port, error)

	mu      sync.Mutex // 保护 port/level
	port    serial.Port
	level   byte
	writeMu sync.Mutex

	stopC chan struct{}
	stopO sync.Once
	wg    sync.WaitGroup

	xferC chan *xfer
}

// New 创建串口桥接服务
func New(cfg cfgpkg.SerialBridgeConfig, capacity int, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		capacity: capacity,
		log:      log,
		openPort: serial.Open,
		stopC:    make(chan struct{}),
		xferC:    make(chan *xfer),
	}
}

func (s *Server) serialConfig() *serial.Config {
	return &serial.Config{
		Address:  s.cfg.Device,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
		Timeout:  s.cfg.Timeout,
	}
}

// Start 打开串口并启动读循环（非阻塞）
func (s *Server) Start() error {
	port, err := s.openPort(s.serialConfig())
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.cfg.Device, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.log.Info("串口桥接已打开",
		zap.String("device", s.cfg.Device),
		zap.Int("baud", s.cfg.BaudRate))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()
	return nil
}

func (s *Server) currentPort() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// readLoop 读取控制端报文并配对总线事务
func (s *Server) readLoop() {
	for {
		select {
		case <-s.stopC:
			return
		default:
		}

		port := s.currentPort()
		if port == nil {
			return
		}
		typ, body, err := bus.ReadMsg(port, s.capacity)
		if err != nil {
			select {
			case <-s.stopC:
				return
			default:
			}
			// 帧间空闲超时继续等；半帧超时会在后续报文错位时触发重开
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			s.log.Warn("串口读取失败", zap.Error(err))
			if !s.reopen() {
				return
			}
			continue
		}

		switch typ {
		case bus.MsgExchange:
			if err := s.pair(body); err != nil {
				if errors.Is(err, bus.ErrClosed) {
					return
				}
				s.log.Warn("总线事务配对失败", zap.Error(err))
				if !s.reopen() {
					return
				}
			}
		case bus.MsgHandshake:
			// 握手线由应答端驱动，控制端不应发送
			s.log.Warn("控制端发来握手报文，忽略")
		}
	}
}

// reopen 关闭并重开串口，直到成功或服务端停止
func (s *Server) reopen() bool {
	s.mu.Lock()
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
	s.mu.Unlock()

	for {
		select {
		case <-s.stopC:
			return false
		default:
		}

		port, err := s.openPort(s.serialConfig())
		if err == nil {
			s.mu.Lock()
			s.port = port
			level := s.level
			s.mu.Unlock()
			s.log.Info("串口已重新打开", zap.String("device", s.cfg.Device))

			// 重开后补发当前电平
			if err := s.writeMsg(bus.MsgHandshake, []byte{level}); err != nil {
				s.log.Debug("握手电平补发失败", zap.Error(err))
			}
			return true
		}

		s.log.Warn("串口重开失败", zap.Error(err))
		select {
		case <-time.After(time.Second):
		case <-s.stopC:
			return false
		}
	}
}

// pair 把控制端发来的一帧与设备侧挂起的事务配对
func (s *Server) pair(body []byte) error {
	var x *xfer
	select {
	case x = <-s.xferC:
	case <-s.stopC:
		return bus.ErrClosed
	}

	n := copy(x.rx, body)
	if err := s.writeMsg(bus.MsgExchange, x.tx); err != nil {
		x.done <- xferResult{0, err}
		return err
	}
	x.done <- xferResult{n, nil}
	return nil
}

func (s *Server) writeMsg(typ byte, body []byte) error {
	port := s.currentPort()
	if port == nil {
		return errors.New("serial port not open")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return bus.WriteMsg(port, typ, body)
}

// Exchange 挂起一次全双工事务，等待控制端clock完成
func (s *Server) Exchange(tx, rx []byte) (int, error) {
	x := &xfer{tx: tx, rx: rx, done: make(chan xferResult, 1)}

	select {
	case s.xferC <- x:
	case <-s.stopC:
		return 0, bus.ErrClosed
	}

	select {
	case r := <-x.done:
		return r.n, r.err
	case <-s.stopC:
		return 0, bus.ErrClosed
	}
}

// Raise 拉高握手线并转发给控制端
func (s *Server) Raise() error { return s.setLevel(bus.LevelHigh) }

// Lower 拉低握手线并转发给控制端
func (s *Server) Lower() error { return s.setLevel(bus.LevelLow) }

func (s *Server) setLevel(level byte) error {
	select {
	case <-s.stopC:
		return bus.ErrClosed
	default:
	}

	s.mu.Lock()
	s.level = level
	s.mu.Unlock()

	if err := s.writeMsg(bus.MsgHandshake, []byte{level}); err != nil {
		s.log.Debug("握手电平转发失败", zap.Error(err))
	}
	return nil
}

// Close 关闭串口，挂起中的事务以 ErrClosed 返回
func (s *Server) Close() error {
	s.stopO.Do(func() {
		close(s.stopC)
		s.mu.Lock()
		if s.port != nil {
			_ = s.port.Close()
			s.port = nil
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}
