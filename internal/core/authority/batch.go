package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

// ErrInvalidBatchParams 批次参数无效
var ErrInvalidBatchParams = errors.New("batch size and interval must be positive")

// RunBatchService 封装批次：累计 size 笔交易或 interval 到期且有待封装交易时封装一次，
// 以先到者为准。ctx 取消时返回 nil。
func (s *AuthorityState) RunBatchService(ctx context.Context, size int, interval time.Duration) error {
	if size < 1 || interval <= 0 {
		return ErrInvalidBatchParams
	}
	logger := s.logger.With(zap.String("service", "batch"))

	next, prev, err := s.resumeBatches()
	if err != nil {
		return err
	}
	logger.Info("batch service started",
		zap.Int("size", size),
		zap.Duration("interval", interval),
		zap.Uint64("next_batch", next.sequence),
		zap.Uint64("first_tx", next.firstTx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("batch service stopped")
			return nil
		case <-s.batchSignal:
			pending, err := s.pendingBatchLen(next.firstTx)
			if err != nil {
				return err
			}
			if pending < uint64(size) {
				continue
			}
		case <-ticker.C:
		}

		for {
			batch, err := s.sealBatch(next, prev, size)
			if err != nil {
				return err
			}
			if batch == nil {
				break
			}
			next = batchCursor{sequence: batch.Sequence + 1, firstTx: batch.LastTx + 1}
			prev = batch.Digest
			logger.Debug("batch sealed",
				zap.Uint64("sequence", batch.Sequence),
				zap.Int("transactions", len(batch.Transactions)))
			// 超过一个批次的积压继续封装，不足 size 的余量等待下一轮
			pending, err := s.pendingBatchLen(next.firstTx)
			if err != nil {
				return err
			}
			if pending < uint64(size) {
				break
			}
		}
		ticker.Reset(interval)
	}
}

type batchCursor struct {
	sequence uint64
	firstTx  uint64
}

// resumeBatches 从最新批次恢复封装位置
func (s *AuthorityState) resumeBatches() (batchCursor, types.Digest, error) {
	latest, err := s.store.LatestBatch()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return batchCursor{}, types.ZeroDigest, nil
	case err != nil:
		return batchCursor{}, types.ZeroDigest, fmt.Errorf("resume batches: %w", err)
	}
	return batchCursor{sequence: latest.Sequence + 1, firstTx: latest.LastTx + 1}, latest.Digest, nil
}

func (s *AuthorityState) pendingBatchLen(firstTx uint64) (uint64, error) {
	next, err := s.store.NextSequence()
	if err != nil {
		return 0, err
	}
	if next <= firstTx {
		return 0, nil
	}
	return next - firstTx, nil
}

// sealBatch 封装至多 size 笔交易；没有待封装交易时返回 nil
func (s *AuthorityState) sealBatch(cur batchCursor, prev types.Digest, size int) (*types.Batch, error) {
	execs, err := s.store.TransactionsFrom(cur.firstTx, size)
	if err != nil {
		return nil, fmt.Errorf("read pending transactions: %w", err)
	}
	if len(execs) == 0 {
		return nil, nil
	}
	batch := &types.Batch{
		Sequence:      cur.sequence,
		FirstTx:       execs[0].Sequence,
		LastTx:        execs[len(execs)-1].Sequence,
		Transactions:  make([]types.Digest, 0, len(execs)),
		PreviousBatch: prev,
		Timestamp:     s.now().UnixMilli(),
	}
	for _, exec := range execs {
		batch.Transactions = append(batch.Transactions, exec.Digest)
	}
	batch.Digest = batch.ComputeDigest()

	if err := s.store.InsertBatch(batch); err != nil {
		return nil, fmt.Errorf("persist batch %d: %w", batch.Sequence, err)
	}
	s.metrics.batchesSealed.Inc()

	if s.checkpoints != nil {
		err := s.checkpoints.WithLock(func(cs *storage.CheckpointStore) error {
			_, err := cs.Sign(batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("sign checkpoint %d: %w", batch.Sequence, err)
		}
		s.metrics.checkpointsSigned.Inc()
	}
	return batch, nil
}
