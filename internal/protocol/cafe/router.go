package cafe

import (
	"context"
	"errors"
	"sync"
)

// ErrNoHandler 命令码未注册
var ErrNoHandler = errors.New("no handler for command")

// ResponseWriter 应答能力：把完整载荷按容量分片回送
type ResponseWriter interface {
	SendChunked(cmd byte, payload []byte) error
}

// Handler 命令处理函数
type Handler func(ctx context.Context, req *Request, w ResponseWriter) error

// Table 命令路由表
type Table struct {
	mu sync.RWMutex
	m  map[byte]Handler
}

func NewTable() *Table { return &Table{m: make(map[byte]Handler)} }

func (t *Table) Register(cmd byte, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[cmd] = h
}

// Lookup 查找命令处理器，未注册返回 nil
func (t *Table) Lookup(cmd byte) Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[cmd]
}

// Route 分发一帧请求，未注册命令返回 ErrNoHandler
func (t *Table) Route(ctx context.Context, req *Request, w ResponseWriter) error {
	h := t.Lookup(req.Command)
	if h == nil {
		return ErrNoHandler
	}
	return h(ctx, req, w)
}
