package health

import "sync/atomic"

// Readiness 就绪状态聚合（总线、槽位清单等）
type Readiness struct {
	linkReady  atomic.Bool
	slotsReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetLinkReady(v bool)  { r.linkReady.Store(v) }
func (r *Readiness) SetSlotsReady(v bool) { r.slotsReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.linkReady.Load() && r.slotsReady.Load()
}
