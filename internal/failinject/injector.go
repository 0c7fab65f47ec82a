// Package failinject 提供按名称注册的故障点，用于在测试中确定性地让存储操作失败。
//
// 存储实现在每次访问后端前调用 Injector.Check(name)，故障点未激活时返回 nil。
// nil *Injector 是合法的，所有方法都视为未激活。
package failinject

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// FailAction 在故障点被触发时执行，返回的错误会被当作后端错误向上传递
type FailAction func() error

// Injector 管理一组命名故障点
type Injector struct {
	mu         sync.Mutex
	failpoints map[string]*Failpoint
}

// Failpoint 是一个可被激活/关闭的故障点
type Failpoint struct {
	name   string
	active atomic.Bool
	hits   atomic.Int64
	mu     sync.RWMutex
	action FailAction
}

func NewInjector() *Injector {
	return &Injector{failpoints: make(map[string]*Failpoint)}
}

// Failpoint 返回指定名称的故障点，不存在时创建一个未激活的
func (i *Injector) Failpoint(name string) *Failpoint {
	i.mu.Lock()
	defer i.mu.Unlock()
	fp, ok := i.failpoints[name]
	if !ok {
		fp = &Failpoint{name: name}
		i.failpoints[name] = fp
	}
	return fp
}

// Check 检查故障点，激活时返回 FailAction 的结果
func (i *Injector) Check(name string) error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	fp, ok := i.failpoints[name]
	i.mu.Unlock()
	if !ok {
		return nil
	}
	return fp.CheckFail()
}

// DeactivateAll 关闭所有故障点
func (i *Injector) DeactivateAll() {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, fp := range i.failpoints {
		fp.Deactivate()
	}
}

func (f *Failpoint) Name() string {
	return f.name
}

// CheckFail 故障点未激活时返回 nil
func (f *Failpoint) CheckFail() error {
	if !f.active.Load() {
		return nil
	}
	f.hits.Add(1)
	f.mu.RLock()
	action := f.action
	f.mu.RUnlock()
	if action == nil {
		return fmt.Errorf("failpoint %s triggered", f.name)
	}
	return action()
}

// SetFailAction 激活故障点
func (f *Failpoint) SetFailAction(action FailAction) {
	f.mu.Lock()
	f.action = action
	f.mu.Unlock()
	f.active.Store(true)
}

// FailWith 激活故障点，每次触发都返回 err
func (f *Failpoint) FailWith(err error) {
	f.SetFailAction(func() error { return err })
}

// FailTimes 激活故障点，前 n 次触发返回 err，之后自动放行
func (f *Failpoint) FailTimes(n int64, err error) {
	var remaining atomic.Int64
	remaining.Store(n)
	f.SetFailAction(func() error {
		if remaining.Add(-1) >= 0 {
			return err
		}
		return nil
	})
}

func (f *Failpoint) Deactivate() {
	f.active.Store(false)
	f.mu.Lock()
	f.action = nil
	f.mu.Unlock()
}

// Hits 返回故障点在激活状态下被检查的次数
func (f *Failpoint) Hits() int64 {
	return f.hits.Load()
}
