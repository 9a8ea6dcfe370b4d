package bus

import "errors"

// ErrClosed 链路已关闭，阻塞中的调用立即返回该错误
var ErrClosed = errors.New("bus closed")

// Transactor 一次定长全双工总线事务
// Exchange 发出 tx 的同时把对端同刻送来的数据收进 rx，
// 阻塞直到对端完成时钟，返回实际交换的字节数
type Transactor interface {
	Exchange(tx, rx []byte) (int, error)
	Close() error
}

// Line 带外握手信号线，由应答端驱动：
// Raise 表示数据已就位可以发起事务，Lower 表示本次事务结束
type Line interface {
	Raise() error
	Lower() error
}
