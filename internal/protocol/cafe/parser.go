package cafe

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShort   = errors.New("short frame")
	ErrBadSync = errors.New("bad sync marker")
)

// checkSync 校验帧长与同步标记
// 标记不符立即返回，不再读取任何后续字段
func checkSync(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShort
	}
	if b[0] != syncByte0 || b[1] != syncByte1 {
		return ErrBadSync
	}
	return nil
}

// DecodeRequest 解析主动方向帧
func DecodeRequest(b []byte) (*Request, error) {
	if err := checkSync(b); err != nil {
		return nil, err
	}
	return &Request{Command: b[offCmd], Arg0: b[offArg0]}, nil
}

// DecodeResponse 解析应答方向帧
// Payload 是 b 内的切片视图，长度取 remaining 与帧内载荷区的较小者
func DecodeResponse(b []byte) (*Response, error) {
	if err := checkSync(b); err != nil {
		return nil, err
	}
	remaining := binary.LittleEndian.Uint32(b[offRemain : offRemain+4])
	chunk := len(b) - HeaderSize
	if int(remaining) < chunk {
		chunk = int(remaining)
	}
	return &Response{
		Command:   b[offCmd],
		Remaining: remaining,
		Payload:   b[offPayload : offPayload+chunk],
	}, nil
}
