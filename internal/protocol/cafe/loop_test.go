package cafe

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/bus"
	"github.com/taoyao-code/hostlink/internal/bus/membus"
	"github.com/taoyao-code/hostlink/internal/slot"
)

type countingLine struct {
	inner bus.Line

	mu      sync.Mutex
	raised  int
	lowered int
}

func (l *countingLine) Raise() error {
	l.mu.Lock()
	l.raised++
	l.mu.Unlock()
	return l.inner.Raise()
}

func (l *countingLine) Lower() error {
	l.mu.Lock()
	l.lowered++
	l.mu.Unlock()
	return l.inner.Lower()
}

func (l *countingLine) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raised, l.lowered
}

type chanPower struct{ c chan struct{} }

func (p *chanPower) Restart(ctx context.Context) error {
	p.c <- struct{}{}
	return nil
}

type loopHarness struct {
	t        *testing.T
	capacity int
	pair     *membus.Pair
	ctl      *membus.Controller
	line     *countingLine
	power    *chanPower
	disp     *Dispatcher
	cancel   context.CancelFunc
	done     chan error
}

func startLoop(t *testing.T, capacity int) *loopHarness {
	t.Helper()
	pair := membus.New(capacity)
	dev := pair.Device()
	line := &countingLine{inner: dev}
	slots := &fakeSlots{
		slots: []slot.Slot{
			{Index: 0, Label: "factory", Bootable: true},
			{Index: 1, Label: "ota0", Bootable: true},
			{Index: 2, Label: "ota1", Bootable: true},
		},
		running: slot.Slot{Index: 1, Label: "ota0", Bootable: true},
	}
	pw := &chanPower{c: make(chan struct{}, 8)}
	h := &Handlers{
		Slots:           slots,
		Power:           pw,
		HardwareVersion: "DADA",
		FirmwareVersion: "fw-2.1.0",
		Log:             zap.NewNop(),
	}
	table := NewTable()
	h.Register(table)
	d := NewDispatcher(dev, line, table, capacity, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	hs := &loopHarness{
		t:        t,
		capacity: capacity,
		pair:     pair,
		ctl:      pair.Controller(),
		line:     line,
		power:    pw,
		disp:     d,
		cancel:   cancel,
		done:     done,
	}
	t.Cleanup(hs.stop)
	return hs
}

func (h *loopHarness) stop() {
	h.cancel()
	h.pair.Close()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Errorf("dispatch loop did not stop")
	}
}

func (h *loopHarness) request(cmd, arg0 byte) []byte {
	h.t.Helper()
	tx := make([]byte, h.capacity)
	if err := EncodeRequest(tx, cmd, arg0); err != nil {
		h.t.Fatalf("encode request: %v", err)
	}
	return tx
}

func (h *loopHarness) transfer(tx []byte) []byte {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ctl.WaitReady(ctx); err != nil {
		h.t.Fatalf("wait ready: %v", err)
	}
	rx := make([]byte, h.capacity)
	if _, err := h.ctl.Transfer(tx, rx); err != nil {
		h.t.Fatalf("transfer: %v", err)
	}
	return rx
}

// statusQuery 发出状态查询并重组分片应答
func (h *loopHarness) statusQuery() []byte {
	h.t.Helper()
	req := h.request(CmdStatusQuery, 0)
	h.transfer(req) // 时钟进请求，此刻回来的还是上一帧
	var out []byte
	for {
		rx := h.transfer(req)
		rsp, err := DecodeResponse(rx)
		if err != nil {
			h.t.Fatalf("decode chunk: %v", err)
		}
		if rsp.Command != CmdStatusQuery {
			h.t.Fatalf("unexpected chunk command 0x%02X", rsp.Command)
		}
		out = append(out, rsp.Payload...)
		if rsp.Final(h.capacity) {
			return out
		}
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestRun_StatusQueryEndToEnd(t *testing.T) {
	h := startLoop(t, 32)
	if !h.disp.LastExchange().IsZero() {
		t.Fatalf("last exchange set before any transaction")
	}

	body := h.statusQuery()

	var st DeviceStatus
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("bad status document %q: %v", body, err)
	}
	if st.HWV != "DADA" || st.FWV != "fw-2.1.0" || st.OTA != "ota0" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if h.disp.LastExchange().IsZero() {
		t.Fatalf("last exchange not recorded")
	}
}

func TestRun_HandshakePairing(t *testing.T) {
	h := startLoop(t, 32)
	h.statusQuery()

	// 查询共 3 次事务，循环随即拉高进入下一次等待：
	// 已成对的 3 次之外还有一次悬置的拉高
	waitFor(t, func() bool {
		r, l := h.line.counts()
		return r == 4 && l == 3
	}, "handshake counts")
	if !h.ctl.Level() {
		t.Fatalf("line low while loop awaits next transaction")
	}
	waitFor(t, func() bool { return h.disp.State() == StateAwait }, "await state")
}

func TestRun_FramingErrorResubmits(t *testing.T) {
	h := startLoop(t, 32)

	// 坏同步标记
	garbage := make([]byte, 32)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	h.transfer(garbage)

	// 短事务
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ctl.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if _, err := h.ctl.Transfer(make([]byte, 8), make([]byte, 32)); err != nil {
		t.Fatalf("short transfer: %v", err)
	}

	// 循环没有崩溃，正常请求照常应答
	var st DeviceStatus
	if err := json.Unmarshal(h.statusQuery(), &st); err != nil {
		t.Fatalf("status after framing errors: %v", err)
	}
	if st.OTA != "ota0" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRun_UnknownCommandNoReply(t *testing.T) {
	h := startLoop(t, 32)
	h.transfer(h.request(0x7F, 0))

	var st DeviceStatus
	if err := json.Unmarshal(h.statusQuery(), &st); err != nil {
		t.Fatalf("status after unknown command: %v", err)
	}
}

func TestRun_RebootCommand(t *testing.T) {
	h := startLoop(t, 32)
	h.transfer(h.request(CmdReboot, 0))

	select {
	case <-h.power.c:
	case <-time.After(2 * time.Second):
		t.Fatalf("restart not invoked")
	}
}

func TestRun_RebootToSlotOutOfRange(t *testing.T) {
	h := startLoop(t, 32)
	h.transfer(h.request(CmdRebootToSlot, 9))

	// 用一次查询作同步点，确认越界请求已处理完
	h.statusQuery()
	select {
	case <-h.power.c:
		t.Fatalf("out-of-range slot request must not restart")
	default:
	}
}

func TestRun_EchoAbortRecyclesResidualRequest(t *testing.T) {
	h := startLoop(t, 32)

	// 控制端发出状态查询后不再回显，而是直接送入一条新的重启请求：
	// 分片发送据此中止，残留缓冲区里的请求不经新事务直接被调度
	h.transfer(h.request(CmdStatusQuery, 0))
	h.transfer(h.request(CmdReboot, 0))

	select {
	case <-h.power.c:
	case <-time.After(2 * time.Second):
		t.Fatalf("recycled reboot request not dispatched")
	}

	// 循环继续工作
	var st DeviceStatus
	if err := json.Unmarshal(h.statusQuery(), &st); err != nil {
		t.Fatalf("status after abort: %v", err)
	}
}

func TestRun_CloseReturnsError(t *testing.T) {
	pair := membus.New(32)
	dev := pair.Device()
	d := NewDispatcher(dev, dev, NewTable(), 32, zap.NewNop(), nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	pair.Close()

	select {
	case err := <-done:
		if !errors.Is(err, bus.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on close")
	}
}

func TestRun_ContextCancelCleanStop(t *testing.T) {
	pair := membus.New(32)
	dev := pair.Device()
	d := NewDispatcher(dev, dev, NewTable(), 32, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	pair.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}
