package cafe

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	"github.com/taoyao-code/hostlink/internal/metrics"
)

// ErrEchoMismatch 分片交换时控制端回发的帧不合法，发送中止
var ErrEchoMismatch = errors.New("echo mismatch")

// link 总线、握手线与指标的组合，调度循环与分片发送共用
type link struct {
	bus  bus.Transactor
	line bus.Line
	met  *metrics.AppMetrics
}

// exchange 执行一次带握手括号的总线事务
// 每次交换严格成对：先拉高握手线，交换结束后放低，出错路径同样放低
func (l *link) exchange(tx, rx []byte) (n int, err error) {
	if rerr := l.line.Raise(); rerr != nil {
		return 0, fmt.Errorf("raise handshake: %w", rerr)
	}
	if l.met != nil {
		l.met.HandshakeLevel.Set(1)
	}
	defer func() {
		if l.met != nil {
			l.met.HandshakeLevel.Set(0)
		}
		if lerr := l.line.Lower(); lerr != nil && err == nil {
			err = fmt.Errorf("lower handshake: %w", lerr)
		}
	}()
	n, err = l.bus.Exchange(tx, rx)
	if err != nil {
		return n, err
	}
	if l.met != nil {
		l.met.ExchangeTotal.Inc()
		l.met.ExchangeBytes.Add(float64(n))
	}
	return n, nil
}

// ChunkSender 把完整应答按载荷区容量分片逐帧送出
// 与调度循环共用同一对缓冲区，最后一次事务的回读留在 rx 中
type ChunkSender struct {
	link *link
	tx   []byte
	rx   []byte
	log  *zap.Logger

	lastN int
}

// Send 分片送出完整载荷
// 每片先写剩余长度再拷贝数据；每次事务后校验控制端同刻回发的
// sync 与命令码，不一致立即中止，剩余分片不再送出
func (s *ChunkSender) Send(cmd byte, payload []byte) error {
	remaining := len(payload)
	sent := 0
	for remaining > 0 {
		n, err := EncodeResponse(s.tx, cmd, uint32(remaining), payload[sent:])
		if err != nil {
			return err
		}
		s.lastN, err = s.link.exchange(s.tx, s.rx)
		if err != nil {
			return fmt.Errorf("chunk exchange: %w", err)
		}
		if err := verifyEcho(s.rx, cmd); err != nil {
			if s.link.met != nil {
				s.link.met.ChunkAbortTotal.Inc()
			}
			s.log.Warn("分片回显校验失败，中止发送",
				zap.String("cmd", CommandName(cmd)),
				zap.Int("sent", sent),
				zap.Int("remaining", remaining),
				zap.Error(err))
			return err
		}
		sent += n
		remaining -= n
		if s.link.met != nil {
			s.link.met.ChunkSentTotal.Inc()
			s.link.met.ResponseBytes.Add(float64(n))
		}
	}
	return nil
}

// LastExchangeLen 最近一次分片事务实际交换的字节数
func (s *ChunkSender) LastExchangeLen() int { return s.lastN }

// verifyEcho 校验交换回来的控制端帧：sync 完整且命令码一致
func verifyEcho(rx []byte, cmd byte) error {
	if err := checkSync(rx); err != nil {
		return fmt.Errorf("%w: %v", ErrEchoMismatch, err)
	}
	if rx[offCmd] != cmd {
		return fmt.Errorf("%w: command 0x%02X, want 0x%02X", ErrEchoMismatch, rx[offCmd], cmd)
	}
	return nil
}
