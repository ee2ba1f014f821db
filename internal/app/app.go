// Package app 以 fx 组装配置、日志与节点模块并管理进程生命周期
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	config "github.com/weisyn/ledgernode/internal/config"
	log "github.com/weisyn/ledgernode/internal/core/infrastructure/log"
	"github.com/weisyn/ledgernode/internal/node"
	ifconfig "github.com/weisyn/ledgernode/pkg/interfaces/config"
)

const (
	// StartTimeout 启动超时
	StartTimeout = 120 * time.Second
	// StopTimeout 停止超时，留给数据库刷盘
	StopTimeout = 60 * time.Second
)

// App 已启动的应用
type App interface {
	// Node 返回运行中的节点
	Node() *node.Node

	// Stop 停止应用
	Stop(ctx context.Context) error

	// Wait 阻塞直到收到退出信号或节点异常终止，然后停止应用，返回进程退出码
	Wait() int
}

type internalApp struct {
	fxApp  *fx.App
	runner *node.Runner
	logger *zap.Logger
}

// Modules 按依赖顺序返回全部模块
func Modules(opts ifconfig.AppOptions) []fx.Option {
	return []fx.Option{
		fx.Provide(func() ifconfig.AppOptions { return opts }),
		config.Module(), // 1. 配置
		log.Module(),    // 2. 日志(依赖配置)
		node.Module(),   // 3. 节点(依赖配置与日志)
	}
}

// New 创建但不启动 fx 应用
func New(opts ...Option) (*fx.App, *node.Runner, *zap.Logger, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		runner *node.Runner
		logger *zap.Logger
	)
	fxApp := fx.New(
		fx.Options(Modules(o)...),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.With(zap.String("module", "fx")).WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Populate(&runner, &logger),
	)
	if err := fxApp.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("build app: %w", err)
	}
	return fxApp, runner, logger, nil
}

// Start 创建并启动应用
func Start(opts ...Option) (App, error) {
	fxApp, runner, logger, err := New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), StartTimeout)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		return nil, fmt.Errorf("start app: %w", err)
	}

	n := runner.Node()
	logger.Info("node started",
		zap.String("role", n.Mode().Role.String()),
		zap.Stringer("peer_address", n.PeerAddress()),
	)
	return &internalApp{fxApp: fxApp, runner: runner, logger: logger}, nil
}

func (a *internalApp) Node() *node.Node {
	return a.runner.Node()
}

func (a *internalApp) Stop(ctx context.Context) error {
	return a.fxApp.Stop(ctx)
}

func (a *internalApp) Wait() int {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	code := 0
	select {
	case sig := <-signals:
		a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case s := <-a.fxApp.Wait():
		code = s.ExitCode
		a.logger.Info("shutdown requested", zap.Int("exit_code", code))
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		a.logger.Error("stop app failed", zap.Error(err))
		if code == 0 {
			code = 1
		}
	}
	_ = a.logger.Sync()
	return code
}
