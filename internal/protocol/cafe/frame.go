package cafe

// Request 主动方向帧（控制端 -> 应答端）
// arg0 是命令的单字节参数，载荷区不使用
type Request struct {
	Command byte
	Arg0    byte
}

// Response 应答方向帧（应答端 -> 控制端）
// Remaining 是含本帧在内还未送完的载荷总字节数，
// Payload 是本帧实际携带的分片
type Response struct {
	Command   byte
	Remaining uint32
	Payload   []byte
}

// Final 判断本帧是否为应答的最后一个分片
func (r *Response) Final(capacity int) bool {
	return int(r.Remaining) <= ChunkCapacity(capacity)
}
