package cafe

import "encoding/binary"

// EncodeRequest 构造主动方向帧：sync + cmd + arg0，其余字节清零
func EncodeRequest(buf []byte, cmd, arg0 byte) error {
	if len(buf) < HeaderSize {
		return ErrShort
	}
	buf[0] = syncByte0
	buf[1] = syncByte1
	buf[offCmd] = cmd
	buf[offArg0] = arg0
	clear(buf[offArg0+1:])
	return nil
}

// EncodeResponse 构造应答方向帧
// remaining 是含本帧在内未送完的总字节数，先写长度字段再拷贝载荷；
// 载荷超出载荷区时截断，返回实际写入的载荷字节数
func EncodeResponse(buf []byte, cmd byte, remaining uint32, payload []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrShort
	}
	buf[0] = syncByte0
	buf[1] = syncByte1
	buf[offCmd] = cmd
	binary.LittleEndian.PutUint32(buf[offRemain:offRemain+4], remaining)
	n := copy(buf[offPayload:], payload)
	return n, nil
}
