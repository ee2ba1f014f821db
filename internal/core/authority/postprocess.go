package authority

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/pkg/types"
)

const (
	postProcessChunk    = 256
	postProcessInterval = 500 * time.Millisecond
)

// sink 后处理目标，各自维护持久化游标
type sink struct {
	name    string
	cursor  func() (uint64, error)
	process func(exec *types.ExecutedTransaction) error
}

// RunPostProcessing 沿执行序号更新索引与事件存储，不阻塞写路径。ctx 取消时返回 nil。
func (s *AuthorityState) RunPostProcessing(ctx context.Context) error {
	sinks := s.sinks()
	logger := s.logger.With(zap.String("service", "post_processing"))
	if len(sinks) == 0 {
		logger.Info("no post-processing sinks configured")
		<-ctx.Done()
		return nil
	}

	cursors := make([]uint64, len(sinks))
	names := make([]string, len(sinks))
	for i, sk := range sinks {
		c, err := sk.cursor()
		if err != nil {
			return fmt.Errorf("read %s cursor: %w", sk.name, err)
		}
		cursors[i] = c
		names[i] = sk.name
	}
	logger.Info("post-processing started", zap.Strings("sinks", names))

	ticker := time.NewTicker(postProcessInterval)
	defer ticker.Stop()

	for {
		for i, sk := range sinks {
			next, err := s.drain(ctx, sk, cursors[i])
			if err != nil {
				return err
			}
			cursors[i] = next
		}

		select {
		case <-ctx.Done():
			logger.Info("post-processing stopped")
			return nil
		case <-s.processSignal:
		case <-ticker.C:
		}
	}
}

func (s *AuthorityState) sinks() []sink {
	var out []sink
	if s.indexStore != nil {
		idx := s.indexStore
		out = append(out, sink{name: "index", cursor: idx.Cursor, process: idx.Index})
	}
	if s.events != nil {
		h := s.events
		out = append(out, sink{name: "events", cursor: h.store.Cursor, process: h.Process})
	}
	return out
}

// drain 处理 cursor 之后所有已执行交易，返回新游标
func (s *AuthorityState) drain(ctx context.Context, sk sink, cursor uint64) (uint64, error) {
	for ctx.Err() == nil {
		execs, err := s.store.TransactionsFrom(cursor, postProcessChunk)
		if err != nil {
			return cursor, fmt.Errorf("read transactions from %d: %w", cursor, err)
		}
		for _, exec := range execs {
			if err := sk.process(exec); err != nil {
				return cursor, fmt.Errorf("%s sink at %d: %w", sk.name, exec.Sequence, err)
			}
			cursor = exec.Sequence + 1
			s.metrics.postProcessed.WithLabelValues(sk.name).Inc()
		}
		if len(execs) < postProcessChunk {
			break
		}
	}
	return cursor, nil
}
