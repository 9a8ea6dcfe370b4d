package cafe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/slot"
)

type fakeSlots struct {
	slots   []slot.Slot
	running slot.Slot
	next    *slot.Slot
	listErr error
	runErr  error
	nextErr error
}

func (f *fakeSlots) List() ([]slot.Slot, error)  { return f.slots, f.listErr }
func (f *fakeSlots) Running() (slot.Slot, error) { return f.running, f.runErr }
func (f *fakeSlots) SetNext(s slot.Slot) error {
	if f.nextErr != nil {
		return f.nextErr
	}
	f.next = &s
	return nil
}

type fakePower struct {
	calls int
	err   error
}

func (f *fakePower) Restart(ctx context.Context) error {
	f.calls++
	return f.err
}

type recordWriter struct {
	calls   int
	cmd     byte
	payload []byte
	err     error
}

func (w *recordWriter) SendChunked(cmd byte, payload []byte) error {
	w.calls++
	w.cmd = cmd
	w.payload = append([]byte(nil), payload...)
	return w.err
}

func newTestHandlers(slots *fakeSlots, pw *fakePower) *Handlers {
	return &Handlers{
		Slots:           slots,
		Power:           pw,
		HardwareVersion: "DADA",
		FirmwareVersion: "fw-2.1.0",
		Log:             zap.NewNop(),
	}
}

func TestHandleStatusQuery(t *testing.T) {
	slots := &fakeSlots{running: slot.Slot{Index: 2, Label: "ota1", Bootable: true}}
	h := newTestHandlers(slots, &fakePower{})
	w := &recordWriter{}

	err := h.HandleStatusQuery(context.Background(), &Request{Command: CmdStatusQuery}, w)
	require.NoError(t, err)
	require.Equal(t, 1, w.calls)
	assert.Equal(t, CmdStatusQuery, w.cmd)

	var st DeviceStatus
	require.NoError(t, json.Unmarshal(w.payload, &st))
	assert.Equal(t, "DADA", st.HWV)
	assert.Equal(t, "fw-2.1.0", st.FWV)
	assert.Equal(t, "ota1", st.OTA)
}

func TestHandleStatusQuery_StoreErrorDegrades(t *testing.T) {
	slots := &fakeSlots{runErr: errors.New("manifest gone")}
	h := newTestHandlers(slots, &fakePower{})
	w := &recordWriter{}

	require.NoError(t, h.HandleStatusQuery(context.Background(), &Request{Command: CmdStatusQuery}, w))

	var st DeviceStatus
	require.NoError(t, json.Unmarshal(w.payload, &st))
	assert.Equal(t, "unknown", st.OTA)
	assert.Equal(t, "fw-2.1.0", st.FWV)
}

func TestHandleStatusQuery_SendErrorPropagates(t *testing.T) {
	h := newTestHandlers(&fakeSlots{running: slot.Slot{Label: "ota0"}}, &fakePower{})
	w := &recordWriter{err: ErrEchoMismatch}

	err := h.HandleStatusQuery(context.Background(), &Request{Command: CmdStatusQuery}, w)
	assert.ErrorIs(t, err, ErrEchoMismatch)
}

func TestHandleReboot(t *testing.T) {
	pw := &fakePower{}
	h := newTestHandlers(&fakeSlots{}, pw)
	w := &recordWriter{}

	require.NoError(t, h.HandleReboot(context.Background(), &Request{Command: CmdReboot}, w))
	assert.Equal(t, 1, pw.calls)
	assert.Equal(t, 0, w.calls, "重启不应回送任何应答")
}

func TestHandleRebootToSlot(t *testing.T) {
	fixture := []slot.Slot{
		{Index: 0, Label: "factory", Bootable: true},
		{Index: 1, Label: "recovery", Bootable: false},
		{Index: 2, Label: "ota0", Bootable: true},
		{Index: 3, Label: "bad", Bootable: false},
		{Index: 4, Label: "ota1", Bootable: true},
	}
	cases := []struct {
		name      string
		arg0      byte
		wantLabel string
		restart   bool
	}{
		{"第0个可启动分区", 0, "factory", true},
		{"跳过不可启动分区", 1, "ota0", true},
		{"第2个可启动分区", 2, "ota1", true},
		{"序号越界不重启", 3, "", false},
		{"序号远超范围", 255, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			slots := &fakeSlots{slots: fixture}
			pw := &fakePower{}
			h := newTestHandlers(slots, pw)

			err := h.HandleRebootToSlot(context.Background(), &Request{Command: CmdRebootToSlot, Arg0: c.arg0}, &recordWriter{})
			require.NoError(t, err)
			if c.restart {
				require.NotNil(t, slots.next)
				assert.Equal(t, c.wantLabel, slots.next.Label)
				assert.Equal(t, 1, pw.calls)
			} else {
				assert.Nil(t, slots.next)
				assert.Equal(t, 0, pw.calls, "越界序号不得触发重启")
			}
		})
	}
}

func TestHandleRebootToSlot_ListError(t *testing.T) {
	pw := &fakePower{}
	h := newTestHandlers(&fakeSlots{listErr: errors.New("manifest gone")}, pw)

	err := h.HandleRebootToSlot(context.Background(), &Request{Command: CmdRebootToSlot}, &recordWriter{})
	assert.Error(t, err)
	assert.Equal(t, 0, pw.calls)
}

func TestHandleRebootToSlot_SetNextError(t *testing.T) {
	slots := &fakeSlots{
		slots:   []slot.Slot{{Index: 0, Label: "ota0", Bootable: true}},
		nextErr: errors.New("disk full"),
	}
	pw := &fakePower{}
	h := newTestHandlers(slots, pw)

	err := h.HandleRebootToSlot(context.Background(), &Request{Command: CmdRebootToSlot, Arg0: 0}, &recordWriter{})
	assert.Error(t, err)
	assert.Equal(t, 0, pw.calls, "落盘失败不得重启")
}
