package methods

import (
	"context"
	"encoding/json"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	apitypes "github.com/weisyn/ledgernode/internal/api/types"
	"github.com/weisyn/ledgernode/pkg/types"
)

// LedgerReader 账本只读视图
type LedgerReader interface {
	Object(id string) (*types.Object, error)
	Transaction(digest types.Digest) (*types.ExecutedTransaction, error)
	TransactionCount() (uint64, error)
}

// ReadAPI 对象与交易查询
type ReadAPI struct {
	state LedgerReader
}

// NewReadAPI 创建查询模块
func NewReadAPI(state LedgerReader) *ReadAPI {
	return &ReadAPI{state: state}
}

// Name 模块名
func (a *ReadAPI) Name() string { return "read" }

// Methods 方法表
func (a *ReadAPI) Methods() map[string]jsonrpc.MethodHandler {
	return map[string]jsonrpc.MethodHandler{
		"ledger_getObject":                 a.GetObject,
		"ledger_getTransaction":            a.GetTransaction,
		"ledger_getTotalTransactionNumber": a.GetTotalTransactionNumber,
	}
}

// GetObject 读取对象当前版本
// Params: [id: string]
func (a *ReadAPI) GetObject(_ context.Context, params json.RawMessage) (interface{}, error) {
	var id string
	if err := parsePositional(params, 1, &id); err != nil {
		return nil, err
	}
	obj, err := a.state.Object(id)
	if err != nil {
		return nil, storageError(err, func() *apitypes.ProblemDetails { return NewObjectNotFoundError(id) })
	}
	return obj, nil
}

// GetTransaction 读取已执行交易
// Params: [digest: hex string]
func (a *ReadAPI) GetTransaction(_ context.Context, params json.RawMessage) (interface{}, error) {
	var hex string
	if err := parsePositional(params, 1, &hex); err != nil {
		return nil, err
	}
	digest, err := parseDigest(hex)
	if err != nil {
		return nil, err
	}
	exec, err := a.state.Transaction(digest)
	if err != nil {
		return nil, storageError(err, func() *apitypes.ProblemDetails { return NewTxNotFoundError(hex) })
	}
	return exec, nil
}

// GetTotalTransactionNumber 已执行交易总数
func (a *ReadAPI) GetTotalTransactionNumber(_ context.Context, _ json.RawMessage) (interface{}, error) {
	n, err := a.state.TransactionCount()
	if err != nil {
		return nil, NewInternalError(err.Error(), nil)
	}
	return n, nil
}
