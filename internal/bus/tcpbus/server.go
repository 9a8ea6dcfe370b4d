package tcpbus

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	cfgpkg "github.com/taoyao-code/hostlink/internal/config"
	"github.com/taoyao-code/hostlink/internal/metrics"
)

// errReplaced 连接在事务配对期间被新控制端替换
var errReplaced = errors.New("controller connection replaced")

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

// session 一条控制端连接
type session struct {
	conn net.Conn
	gone chan struct{} // 被替换或服务端关闭时关闭
}

// Server 把总线事务桥接到TCP的应答端。
// 实现 bus.Transactor 与 bus.Line：调度循环把它当作总线外设使用，
// 远端控制端通过桥接报文发起事务。同一时刻只服务一个控制端连接，
// 新连接替换旧连接。
type Server struct {
	cfg      cfgpkg.TCPBridgeConfig
	capacity int
	log      *zap.Logger
	met      *metrics.AppMetrics
	limiter  *RateLimiter

	ln    net.Listener
	wg    sync.WaitGroup
	stopC chan struct{}
	stopO sync.Once

	mu      sync.Mutex // 保护 sess/level
	sess    *session
	level   byte
	writeMu sync.Mutex // 串行化对当前连接的写

	xferC chan *xfer
}

// New 创建 TCP 桥接服务
func New(cfg cfgpkg.TCPBridgeConfig, capacity int, log *zap.Logger, met *metrics.AppMetrics) *Server {
	return &Server{
		cfg:      cfg,
		capacity: capacity,
		log:      log,
		met:      met,
		limiter:  NewRateLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		stopC:    make(chan struct{}),
		xferC:    make(chan *xfer),
	}
}

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("TCP桥接已监听", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				// 短暂错误等待后重试
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !s.limiter.Allow() {
				s.log.Warn("接入被限流", zap.String("remote", conn.RemoteAddr().String()))
				_ = conn.Close()
				continue
			}
			if s.met != nil {
				s.met.BridgeAccepted.Inc()
			}

			sess := s.attach(conn)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(sess)
			}()
		}
	}()
	return nil
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// attach 用新连接替换当前控制端，并补发当前握手电平
func (s *Server) attach(conn net.Conn) *session {
	sess := &session{conn: conn, gone: make(chan struct{})}

	s.mu.Lock()
	old := s.sess
	s.sess = sess
	level := s.level
	s.mu.Unlock()

	if old != nil {
		close(old.gone)
		_ = old.conn.Close()
	}
	if s.met != nil {
		s.met.BridgeActive.Set(1)
	}
	s.log.Info("控制端已接入", zap.String("remote", conn.RemoteAddr().String()))

	// 新控制端先得知当前电平，避免错过已经拉高的握手线
	if err := s.writeMsg(sess, bus.MsgHandshake, []byte{level}); err != nil {
		s.log.Warn("握手电平补发失败", zap.Error(err))
	}
	return sess
}

// detach 连接结束时清理，仅当仍是当前连接时生效
func (s *Server) detach(sess *session) {
	s.mu.Lock()
	active := s.sess == sess
	if active {
		s.sess = nil
	}
	s.mu.Unlock()

	_ = sess.conn.Close()
	if active && s.met != nil {
		s.met.BridgeActive.Set(0)
	}
}

// serve 读取控制端报文并配对总线事务
func (s *Server) serve(sess *session) {
	defer s.detach(sess)

	for {
		typ, body, err := bus.ReadMsg(sess.conn, s.capacity)
		if err != nil {
			select {
			case <-s.stopC:
			default:
				s.log.Info("控制端连接结束", zap.Error(err))
			}
			return
		}

		switch typ {
		case bus.MsgExchange:
			if err := s.pair(sess, body); err != nil {
				if !errors.Is(err, errReplaced) {
					s.log.Warn("总线事务配对失败", zap.Error(err))
				}
				return
			}
		case bus.MsgHandshake:
			// 握手线由应答端驱动，控制端不应发送
			s.log.Warn("控制端发来握手报文，忽略")
		}
	}
}

// pair 把控制端发来的一帧与设备侧挂起的事务配对：
// 控制端数据进 rx，设备数据原样回发，双向同时完成。
func (s *Server) pair(sess *session, body []byte) error {
	var x *xfer
	select {
	case x = <-s.xferC:
	case <-sess.gone:
		return errReplaced
	case <-s.stopC:
		return bus.ErrClosed
	}

	n := copy(x.rx, body)
	if err := s.writeMsg(sess, bus.MsgExchange, x.tx); err != nil {
		// 回发失败则本次事务作废，调度循环会重新挂起
		x.done <- xferResult{0, err}
		return err
	}
	x.done <- xferResult{n, nil}
	return nil
}

func (s *Server) writeMsg(sess *session, typ byte, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return bus.WriteMsg(sess.conn, typ, body)
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
	sess := s.sess
	s.mu.Unlock()

	// 无控制端时只记录电平，接入时补发
	if sess == nil {
		return nil
	}
	if err := s.writeMsg(sess, bus.MsgHandshake, []byte{level}); err != nil {
		s.log.Debug("握手电平转发失败", zap.Error(err))
	}
	return nil
}

// LimiterStats 接入限流统计
func (s *Server) LimiterStats() RateLimiterStats {
	return s.limiter.Stats()
}

// Close 停止监听并断开控制端，挂起中的事务以 ErrClosed 返回
func (s *Server) Close() error {
	s.stopO.Do(func() {
		close(s.stopC)
		if s.ln != nil {
			_ = s.ln.Close()
		}
		s.mu.Lock()
		sess := s.sess
		s.sess = nil
		s.mu.Unlock()
		if sess != nil {
			close(sess.gone)
			_ = sess.conn.Close()
		}
		if s.met != nil {
			s.met.BridgeActive.Set(0)
		}
	})
	s.wg.Wait()
	return nil
}
