package controller

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/taoyao-code/hostlink/internal/bus"
)

// Client 桥接链路上的控制端。
// 一条连接上只允许顺序事务：写出一帧，等待应答端同刻回发的一帧。
// 握手电平由读循环维护，WaitReady 在电平拉高前阻塞。
type Client struct {
	conn     io.ReadWriteCloser
	capacity int

	mu     sync.Mutex
	level  byte
	levelC chan struct{} // 电平变化广播，关闭后换新

	replyC chan []byte

	txMu sync.Mutex // 串行化事务

	closed chan struct{}
	closeO sync.Once
	errMu  sync.Mutex
	rdErr  error
}

// Dial 通过 TCP 连接应答端桥接服务
func Dial(addr string, capacity int) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, capacity), nil
}

// New 在已建立的连接上创建控制端（串口或TCP均可）
func New(conn io.ReadWriteCloser, capacity int) *Client {
	c := &Client{
		conn:     conn,
		capacity: capacity,
		levelC:   make(chan struct{}),
		replyC:   make(chan []byte, 1),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Capacity 单次事务的定长缓冲区大小
func (c *Client) Capacity() int { return c.capacity }

func (c *Client) readLoop() {
	for {
		typ, body, err := bus.ReadMsg(c.conn, c.capacity)
		if err != nil {
			c.fail(err)
			return
		}
		switch typ {
		case bus.MsgHandshake:
			if len(body) == 1 {
				c.noteLevel(body[0])
			}
		case bus.MsgExchange:
			select {
			case c.replyC <- body:
			default:
				// 没有等待中的事务，丢弃过期回发
			}
		}
	}
}

func (c *Client) noteLevel(level byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level == level {
		return
	}
	c.level = level
	close(c.levelC)
	c.levelC = make(chan struct{})
}

// Level 当前握手电平
func (c *Client) Level() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// WaitReady 阻塞等待握手线拉高
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		level := c.level
		ch := c.levelC
		c.mu.Unlock()

		if level == bus.LevelHigh {
			return nil
		}
		select {
		case <-ch:
		case <-c.closed:
			return c.errOrClosed()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Transfer 执行一次全双工事务：写出 tx，同刻回发的数据进 rx
func (c *Client) Transfer(ctx context.Context, tx, rx []byte) (int, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	select {
	case <-c.closed:
		return 0, c.errOrClosed()
	default:
	}

	// 清掉上一次事务可能残留的过期回发
	select {
	case <-c.replyC:
	default:
	}

	if err := bus.WriteMsg(c.conn, bus.MsgExchange, tx); err != nil {
		return 0, err
	}

	select {
	case body := <-c.replyC:
		return copy(rx, body), nil
	case <-c.closed:
		return 0, c.errOrClosed()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.rdErr == nil {
		c.rdErr = err
	}
	c.errMu.Unlock()
	c.closeO.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) errOrClosed() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.rdErr != nil {
		return c.rdErr
	}
	return bus.ErrClosed
}

// Close 断开桥接连接
func (c *Client) Close() error {
	c.closeO.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}
