package slot

import "errors"

// ErrNotFound 清单里没有匹配的分区
var ErrNotFound = errors.New("slot not found")

// Slot 一个启动分区
type Slot struct {
	Index    int    `yaml:"index" json:"index"`
	Label    string `yaml:"label" json:"label"`
	Bootable bool   `yaml:"bootable" json:"bootable"`
}

// Store 分区清单访问
// List 每次调用都返回当下的清单内容，不做缓存
type Store interface {
	List() ([]Slot, error)
	Running() (Slot, error)
	SetNext(Slot) error
}
