package bus

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// 桥接报文：type(1) + len(2, 大端) + body
// TCP 与串口链路用它把总线事务和握手电平转发给控制端
const (
	MsgExchange  byte = 0x01 // body = 一次事务的定长缓冲区
	MsgHandshake byte = 0x02 // body = 1 字节电平
)

// 握手电平取值
const (
	LevelLow  byte = 0x00
	LevelHigh byte = 0x01
)

// WriteMsg 写出一条桥接报文
func WriteMsg(w io.Writer, typ byte, body []byte) error {
	if len(body) > math.MaxUint16 {
		return fmt.Errorf("bridge body too large: %d", len(body))
	}
	hdr := [3]byte{typ}
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadMsg 读入一条桥接报文，body 超过 max 字节按协议错误处理
func ReadMsg(r io.Reader, max int) (byte, []byte, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	typ := hdr[0]
	if typ != MsgExchange && typ != MsgHandshake {
		return 0, nil, fmt.Errorf("unknown bridge message type 0x%02X", typ)
	}
	n := int(binary.BigEndian.Uint16(hdr[1:]))
	if n > max {
		return 0, nil, fmt.Errorf("bridge body too large: %d > %d", n, max)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return typ, body, nil
}
