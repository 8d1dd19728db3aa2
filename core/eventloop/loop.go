// Package eventloop 视图的所有修改都在单个协程上执行
// 媒体回调、定时器与网络消息按先进先出投递到循环，视图状态无需加锁
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler 组件对循环的依赖
type Scheduler interface {
	// Post 把 fn 排入循环
	Post(fn func())
	// AfterFunc d 之后在循环上执行 fn，除非定时器先被停止
	AfterFunc(d time.Duration, fn func()) Timer
	// Now 循环时钟
	Now() time.Time
}

// Timer 可取消的定时回调
type Timer interface {
	// Stop 阻止回调执行，返回是否在触发前停止
	Stop() bool
}

// Loop 单协程任务执行器
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// New 创建指定队列深度的循环
func New(depth int) *Loop {
	return &Loop{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Run 执行任务，直到 ctx 取消或调用 Stop
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		}
	}
}

// Stop 结束 Run，丢弃未执行的任务
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Post 排入 fn；队列满时阻塞，循环停止后直接丢弃
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Do 在循环上执行 fn 并等待，不能在循环内调用
func (l *Loop) Do(fn func()) {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

// Now 墙钟时间
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc 在循环上定时执行 fn
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return t
}

type loopTimer struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Stop 标记定时器已取消，已入队的回调也会跳过
func (t *loopTimer) Stop() bool {
	wasActive := !t.cancelled.Swap(true)
	return t.timer.Stop() && wasActive
}
