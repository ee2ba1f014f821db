package node

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
)

// ModuleParams 节点模块依赖
type ModuleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Options    *nodeconfig.NodeOptions
	Storage    *badgerconfig.BadgerOptions `optional:"true"`
	Logger     *zap.Logger
}

// Runner 把节点挂到 fx 生命周期上
type Runner struct {
	params ModuleParams

	mu   sync.Mutex
	node *Node
}

// Module 返回节点模块
func Module() fx.Option {
	return fx.Module("node",
		fx.Provide(NewRunner),
		fx.Invoke(func(*Runner) {}),
	)
}

// NewRunner OnStart 启动节点并监视其监听任务，OnStop 关闭节点
func NewRunner(p ModuleParams) *Runner {
	r := &Runner{params: p}
	p.Lifecycle.Append(fx.Hook{
		OnStart: r.start,
		OnStop:  r.stop,
	})
	return r
}

// Node 已启动的节点，启动前为 nil
func (r *Runner) Node() *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.node
}

func (r *Runner) start(ctx context.Context) error {
	n, err := Start(ctx, r.params.Options,
		WithLogger(r.params.Logger),
		WithStorageOptions(r.params.Storage),
	)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.node = n
	r.mu.Unlock()

	go func() {
		err := n.Wait(context.Background())
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		r.params.Logger.Error("node terminated", zap.Error(err))
		_ = r.params.Shutdowner.Shutdown(fx.ExitCode(1))
	}()
	return nil
}

func (r *Runner) stop(ctx context.Context) error {
	n := r.Node()
	if n == nil {
		return nil
	}
	return n.Close(ctx)
}
