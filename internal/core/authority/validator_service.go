package authority

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/weisyn/ledgernode/internal/core/network"
	"github.com/weisyn/ledgernode/internal/core/storage"
)

// maxBatchInfoLimit 单次 BatchInfo 最多返回的批次数
const maxBatchInfoLimit = 256

// ValidatorService 验证者 RPC 服务
type ValidatorService struct {
	state *AuthorityState
}

// NewValidatorService 包装账本状态
func NewValidatorService(state *AuthorityState) *ValidatorService {
	return &ValidatorService{state: state}
}

var _ network.ValidatorServer = (*ValidatorService)(nil)

// SubmitTransaction 执行交易
func (v *ValidatorService) SubmitTransaction(ctx context.Context, req *network.SubmitTransactionRequest) (*network.SubmitTransactionResponse, error) {
	exec, err := v.state.HandleTransaction(ctx, &req.Transaction)
	if err != nil {
		return nil, toStatus(err)
	}
	return &network.SubmitTransactionResponse{Executed: exec}, nil
}

// TransactionInfo 查询已执行交易
func (v *ValidatorService) TransactionInfo(_ context.Context, req *network.TransactionInfoRequest) (*network.TransactionInfoResponse, error) {
	exec, err := v.state.Transaction(req.Digest)
	if err != nil {
		return nil, toStatus(err)
	}
	return &network.TransactionInfoResponse{Executed: exec}, nil
}

// BatchInfo 拉取批次
func (v *ValidatorService) BatchInfo(_ context.Context, req *network.BatchInfoRequest) (*network.BatchInfoResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > maxBatchInfoLimit {
		limit = maxBatchInfoLimit
	}
	batches, err := v.state.BatchesFrom(req.Start, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &network.BatchInfoResponse{Batches: batches}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrEmptyTransaction):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
