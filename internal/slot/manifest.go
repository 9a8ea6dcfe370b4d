package slot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// manifest 清单文件结构
type manifest struct {
	Running string `yaml:"running"`
	Next    string `yaml:"next,omitempty"`
	Slots   []Slot `yaml:"slots"`
}

// FileStore 基于 YAML 清单文件的分区存取
// 每次调用都重新读盘，枚举结果反映当下的清单状态
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore 打开 path 处的分区清单
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*manifest, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// List 按清单顺序返回全部分区
func (s *FileStore) List() ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return m.Slots, nil
}

// Running 返回当前运行的分区
func (s *FileStore) Running() (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return Slot{}, err
	}
	for _, sl := range m.Slots {
		if sl.Label == m.Running {
			return sl, nil
		}
	}
	return Slot{}, fmt.Errorf("running slot %q: %w", m.Running, ErrNotFound)
}

// Next 返回已选定的下次启动分区，没有选定时 ok 为 false
func (s *FileStore) Next() (Slot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return Slot{}, false, err
	}
	if m.Next == "" {
		return Slot{}, false, nil
	}
	for _, sl := range m.Slots {
		if sl.Label == m.Next {
			return sl, true, nil
		}
	}
	return Slot{}, false, fmt.Errorf("next slot %q: %w", m.Next, ErrNotFound)
}

// SetNext 登记下次启动分区并回写清单
// 写入走临时文件加改名，清单不会出现半写状态
func (s *FileStore) SetNext(sl Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	found := false
	for _, cur := range m.Slots {
		if cur.Label == sl.Label {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("set next %q: %w", sl.Label, ErrNotFound)
	}
	m.Next = sl.Label
	return s.store(m)
}

func (s *FileStore) store(m *manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
