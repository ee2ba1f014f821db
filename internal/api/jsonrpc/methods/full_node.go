package methods

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	"github.com/weisyn/ledgernode/pkg/types"
)

// TransactionIndex 全节点二级索引
type TransactionIndex interface {
	TransactionsInRange(start, end uint64) ([]types.Digest, error)
	TransactionsBySender(sender types.AuthorityName, limit int) ([]types.Digest, error)
	TransactionsByObject(id string, limit int) ([]types.Digest, error)
}

// FullNodeAPI 基于索引的交易查询
type FullNodeAPI struct {
	index TransactionIndex
}

// NewFullNodeAPI 创建索引查询模块
func NewFullNodeAPI(index TransactionIndex) *FullNodeAPI {
	return &FullNodeAPI{index: index}
}

// Name 模块名
func (a *FullNodeAPI) Name() string { return "full_node" }

// Methods 方法表
func (a *FullNodeAPI) Methods() map[string]jsonrpc.MethodHandler {
	return map[string]jsonrpc.MethodHandler{
		"ledger_getTransactionsInRange":  a.GetTransactionsInRange,
		"ledger_getTransactionsBySender": a.GetTransactionsBySender,
		"ledger_getTransactionsByObject": a.GetTransactionsByObject,
	}
}

// GetTransactionsInRange 执行序号 [start, end) 内的交易摘要
// Params: [start: uint64, end: uint64]
func (a *FullNodeAPI) GetTransactionsInRange(_ context.Context, params json.RawMessage) (interface{}, error) {
	var start, end uint64
	if err := parsePositional(params, 2, &start, &end); err != nil {
		return nil, err
	}
	if end < start {
		return nil, NewInvalidParamsError("end must not be less than start", map[string]interface{}{"start": start, "end": end})
	}
	if end-start > maxQueryLimit {
		return nil, NewInvalidParamsError(fmt.Sprintf("range exceeds %d transactions", maxQueryLimit), nil)
	}
	ds, err := a.index.TransactionsInRange(start, end)
	if err != nil {
		return nil, NewInternalError(err.Error(), nil)
	}
	return digestStrings(ds), nil
}

// GetTransactionsBySender 发送方的交易摘要
// Params: [sender: string, limit?: int]
func (a *FullNodeAPI) GetTransactionsBySender(_ context.Context, params json.RawMessage) (interface{}, error) {
	var (
		sender string
		limit  int
	)
	if err := parsePositional(params, 1, &sender, &limit); err != nil {
		return nil, err
	}
	ds, err := a.index.TransactionsBySender(types.AuthorityName(sender), clampLimit(limit))
	if err != nil {
		return nil, NewInternalError(err.Error(), nil)
	}
	return digestStrings(ds), nil
}

// GetTransactionsByObject 写过对象的交易摘要
// Params: [id: string, limit?: int]
func (a *FullNodeAPI) GetTransactionsByObject(_ context.Context, params json.RawMessage) (interface{}, error) {
	var (
		id    string
		limit int
	)
	if err := parsePositional(params, 1, &id, &limit); err != nil {
		return nil, err
	}
	ds, err := a.index.TransactionsByObject(id, clampLimit(limit))
	if err != nil {
		return nil, NewInternalError(err.Error(), nil)
	}
	return digestStrings(ds), nil
}
