package cafe

import (
	"bytes"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// scriptBus 脚本化的总线桩：可指定某次事务控制端回发的内容，
// 默认回显是控制端持续重发同一命令的请求帧
type scriptBus struct {
	t       *testing.T
	echoCmd byte
	echoes  map[int][]byte

	calls   int
	frames  [][]byte
	level   bool
	raised  int
	lowered int
}

func newScriptBus(t *testing.T, echoCmd byte) *scriptBus {
	return &scriptBus{t: t, echoCmd: echoCmd, echoes: make(map[int][]byte)}
}

func (b *scriptBus) Exchange(tx, rx []byte) (int, error) {
	if !b.level {
		b.t.Errorf("exchange %d without handshake raised", b.calls)
	}
	frame := make([]byte, len(tx))
	copy(frame, tx)
	b.frames = append(b.frames, frame)
	if e, ok := b.echoes[b.calls]; ok {
		copy(rx, e)
	} else if err := EncodeRequest(rx, b.echoCmd, 0); err != nil {
		return 0, err
	}
	b.calls++
	return len(rx), nil
}

func (b *scriptBus) Close() error { return nil }
func (b *scriptBus) Raise() error { b.level = true; b.raised++; return nil }
func (b *scriptBus) Lower() error { b.level = false; b.lowered++; return nil }

func newTestSender(b *scriptBus, capacity int) *ChunkSender {
	return &ChunkSender{
		link: &link{bus: b, line: b},
		tx:   make([]byte, capacity),
		rx:   make([]byte, capacity),
		log:  zap.NewNop(),
	}
}

func TestSend_TransactionCount(t *testing.T) {
	// capacity 32，单片载荷 25 字节
	cases := []struct {
		length int
		want   int
	}{
		{0, 0},
		{1, 1},
		{25, 1},
		{26, 2},
		{50, 2},
		{51, 3},
	}
	for _, c := range cases {
		b := newScriptBus(t, 0x19)
		s := newTestSender(b, 32)
		if err := s.Send(0x19, bytes.Repeat([]byte{0xEE}, c.length)); err != nil {
			t.Fatalf("len=%d: unexpected error: %v", c.length, err)
		}
		if b.calls != c.want {
			t.Fatalf("len=%d: %d transactions, want %d", c.length, b.calls, c.want)
		}
	}
}

func TestSend_RemainingSequence(t *testing.T) {
	payload := make([]byte, 60)
	for i := range payload {
		payload[i] = byte(i)
	}
	b := newScriptBus(t, 0x19)
	s := newTestSender(b, 32)
	if err := s.Send(0x19, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.frames) != 3 {
		t.Fatalf("%d frames, want 3", len(b.frames))
	}
	// 长度字段是包含当前分片在内的剩余字节数
	wantRemaining := []uint32{60, 35, 10}
	var got []byte
	for i, frame := range b.frames {
		rsp, err := DecodeResponse(frame)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if rsp.Command != 0x19 {
			t.Fatalf("frame %d: command 0x%02X", i, rsp.Command)
		}
		if rsp.Remaining != wantRemaining[i] {
			t.Fatalf("frame %d: remaining %d, want %d", i, rsp.Remaining, wantRemaining[i])
		}
		got = append(got, rsp.Payload...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestSend_AbortOnBadSyncEcho(t *testing.T) {
	b := newScriptBus(t, 0x19)
	b.echoes[1] = make([]byte, 32) // 第二次事务回显全零，同步标记损坏
	s := newTestSender(b, 32)
	err := s.Send(0x19, bytes.Repeat([]byte{0xEE}, 60))
	if !errors.Is(err, ErrEchoMismatch) {
		t.Fatalf("expected ErrEchoMismatch, got %v", err)
	}
	if b.calls != 2 {
		t.Fatalf("%d transactions after abort, want 2", b.calls)
	}
}

func TestSend_AbortOnWrongCommandEcho(t *testing.T) {
	b := newScriptBus(t, 0x1A) // 控制端回发的命令码和正在发送的不一致
	s := newTestSender(b, 32)
	err := s.Send(0x19, bytes.Repeat([]byte{0xEE}, 60))
	if !errors.Is(err, ErrEchoMismatch) {
		t.Fatalf("expected ErrEchoMismatch, got %v", err)
	}
	if b.calls != 1 {
		t.Fatalf("%d transactions after abort, want 1", b.calls)
	}
	if s.LastExchangeLen() != 32 {
		t.Fatalf("last exchange len %d, want 32", s.LastExchangeLen())
	}
}

func TestSend_HandshakeBracket(t *testing.T) {
	b := newScriptBus(t, 0x19)
	s := newTestSender(b, 32)
	if err := s.Send(0x19, bytes.Repeat([]byte{0xEE}, 60)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.raised != 3 || b.lowered != 3 {
		t.Fatalf("handshake raised=%d lowered=%d, want 3/3", b.raised, b.lowered)
	}

	// 中止路径同样成对
	b = newScriptBus(t, 0x19)
	b.echoes[1] = make([]byte, 32)
	s = newTestSender(b, 32)
	if err := s.Send(0x19, bytes.Repeat([]byte{0xEE}, 60)); err == nil {
		t.Fatalf("expected error but nil")
	}
	if b.raised != 2 || b.lowered != 2 {
		t.Fatalf("handshake raised=%d lowered=%d, want 2/2", b.raised, b.lowered)
	}
}

func TestSend_EmptyPayloadNoTransaction(t *testing.T) {
	b := newScriptBus(t, 0x19)
	s := newTestSender(b, 32)
	if err := s.Send(0x19, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 0 || b.raised != 0 {
		t.Fatalf("empty payload touched the bus: calls=%d raised=%d", b.calls, b.raised)
	}
}
