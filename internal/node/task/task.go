// Package task 提供后台任务的派生与监督：每个任务持有终态结果，按策略决定是否被等待
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Policy 任务监督策略
type Policy int

const (
	// Detached 失败只被记录并保存在句柄中，不向上传播
	Detached Policy = iota
	// Joined 节点等待该任务，其失败由 Wait 返回
	Joined
)

func (p Policy) String() string {
	switch p {
	case Joined:
		return "joined"
	default:
		return "detached"
	}
}

// Func 任务函数，ctx 取消时应尽快返回 nil
type Func func(ctx context.Context) error

// Handle 已派生任务的句柄
type Handle struct {
	name   string
	policy Policy
	done   chan struct{}
	err    error
}

// Spawn 在独立 goroutine 中运行 fn
func Spawn(ctx context.Context, name string, policy Policy, logger *zap.Logger, fn Func) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handle{name: name, policy: policy, done: make(chan struct{})}
	logger = logger.With(zap.String("task", name), zap.Stringer("policy", policy))

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("task %s panicked: %v", name, r)
				logger.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()

		h.err = fn(ctx)
		switch {
		case h.err == nil:
			logger.Info("task exited")
		case policy == Detached:
			logger.Error("detached task failed", zap.Error(h.err))
		default:
			logger.Error("task failed", zap.Error(h.err))
		}
	}()
	return h
}

// Name 任务名称
func (h *Handle) Name() string { return h.name }

// Policy 监督策略
func (h *Handle) Policy() Policy { return h.policy }

// Done 任务结束时关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err 任务终态结果，任务未结束时为 nil
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Finished 任务是否已结束
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait 阻塞直到任务结束或 ctx 取消
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set 节点持有的全部任务句柄
type Set struct {
	mu      sync.Mutex
	handles []*Handle
}

// Add 加入句柄，nil 忽略
func (s *Set) Add(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = append(s.handles, h)
}

// Handles 全部句柄（派生顺序）
func (s *Set) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Get 按名称查找句柄
func (s *Set) Get(name string) *Handle {
	for _, h := range s.Handles() {
		if h.name == name {
			return h
		}
	}
	return nil
}

// JoinTargets 被等待的句柄：joinAll 时为全部，否则只有 Joined 策略的任务
func (s *Set) JoinTargets(joinAll bool) []*Handle {
	var out []*Handle
	for _, h := range s.Handles() {
		if joinAll || h.policy == Joined {
			out = append(out, h)
		}
	}
	return out
}

// Wait 等待目标句柄：任一失败即返回该错误，全部成功结束时返回 nil
func (s *Set) Wait(ctx context.Context, joinAll bool) error {
	targets := s.JoinTargets(joinAll)
	if len(targets) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, h := range targets {
		h := h
		group.Go(func() error {
			select {
			case <-h.done:
				return h.err
			case <-groupCtx.Done():
				return nil
			}
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// WaitAll 等待全部任务结束（关闭阶段使用），忽略任务结果
func (s *Set) WaitAll(ctx context.Context) error {
	for _, h := range s.Handles() {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
