package membus

import (
	"context"
	"sync"

	"github.com/taoyao-code/hostlink/internal/bus"
)

// Pair 进程内的点对点总线，设备端与控制端在内存里会合
// 用于测试与回环联调；事务路径不做按次分配
type Pair struct {
	capacity int

	xferC  chan *xfer
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	level  bool
	levelC chan struct{}
}

type xfer struct {
	tx   []byte
	rx   []byte
	done chan int
}

// New 建立一对容量为 capacity 的内存总线端点
func New(capacity int) *Pair {
	return &Pair{
		capacity: capacity,
		xferC:    make(chan *xfer),
		closed:   make(chan struct{}),
		levelC:   make(chan struct{}),
	}
}

// Capacity 单次事务的缓冲区容量
func (p *Pair) Capacity() int { return p.capacity }

// Device 应答端端点，实现 bus.Transactor 与 bus.Line
func (p *Pair) Device() *Device { return &Device{p: p} }

// Controller 控制端端点
func (p *Pair) Controller() *Controller { return &Controller{p: p} }

// Close 关闭两端，阻塞中的调用返回 bus.ErrClosed
func (p *Pair) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *Pair) setLevel(v bool) {
	p.mu.Lock()
	if p.level != v {
		p.level = v
		close(p.levelC)
		p.levelC = make(chan struct{})
	}
	p.mu.Unlock()
}

// Device 设备（应答）端
type Device struct{ p *Pair }

// Exchange 提交一次事务并阻塞等待控制端时钟
func (d *Device) Exchange(tx, rx []byte) (int, error) {
	x := &xfer{tx: tx, rx: rx, done: make(chan int, 1)}
	select {
	case d.p.xferC <- x:
	case <-d.p.closed:
		return 0, bus.ErrClosed
	}
	select {
	case n := <-x.done:
		return n, nil
	case <-d.p.closed:
		return 0, bus.ErrClosed
	}
}

// Close 关闭整个链路
func (d *Device) Close() error { return d.p.Close() }

// Raise 拉高握手线
func (d *Device) Raise() error {
	select {
	case <-d.p.closed:
		return bus.ErrClosed
	default:
	}
	d.p.setLevel(true)
	return nil
}

// Lower 放低握手线
func (d *Device) Lower() error {
	select {
	case <-d.p.closed:
		return bus.ErrClosed
	default:
	}
	d.p.setLevel(false)
	return nil
}

// Controller 控制（主动）端
type Controller struct{ p *Pair }

// Transfer 发起一次全双工事务：tx 送往设备端，设备端同刻的数据收进 rx
// 阻塞直到设备端提交了事务缓冲
func (c *Controller) Transfer(tx, rx []byte) (int, error) {
	select {
	case x := <-c.p.xferC:
		n := copy(x.rx, tx)
		m := copy(rx, x.tx)
		x.done <- n
		return m, nil
	case <-c.p.closed:
		return 0, bus.ErrClosed
	}
}

// WaitReady 阻塞直到握手线为高
func (c *Controller) WaitReady(ctx context.Context) error {
	for {
		c.p.mu.Lock()
		if c.p.level {
			c.p.mu.Unlock()
			return nil
		}
		ch := c.p.levelC
		c.p.mu.Unlock()
		select {
		case <-ch:
		case <-c.p.closed:
			return bus.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Level 当前握手电平
func (c *Controller) Level() bool {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.level
}

// Close 关闭整个链路
func (c *Controller) Close() error { return c.p.Close() }
