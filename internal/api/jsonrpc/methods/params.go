// Package methods 提供账本查询与事件订阅的 JSON-RPC 模块
package methods

import (
	"encoding/json"
	"fmt"

	"github.com/weisyn/ledgernode/pkg/types"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// parsePositional 按位置解析数组参数；required 之后的参数可省略
func parsePositional(params json.RawMessage, required int, targets ...interface{}) error {
	var raw []json.RawMessage
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &raw); err != nil {
			return NewInvalidParamsError(fmt.Sprintf("params must be an array: %v", err), nil)
		}
	}
	if len(raw) < required {
		return NewInvalidParamsError(fmt.Sprintf("expected at least %d params, got %d", required, len(raw)), nil)
	}
	if len(raw) > len(targets) {
		return NewInvalidParamsError(fmt.Sprintf("expected at most %d params, got %d", len(targets), len(raw)), nil)
	}
	for i, r := range raw {
		if err := json.Unmarshal(r, targets[i]); err != nil {
			return NewInvalidParamsError(fmt.Sprintf("invalid param %d: %v", i, err), map[string]interface{}{"index": i})
		}
	}
	return nil
}

func parseDigest(s string) (types.Digest, error) {
	d, err := types.ParseDigest(s)
	if err != nil {
		return d, NewInvalidParamsError(err.Error(), map[string]interface{}{"digest": s})
	}
	return d, nil
}

// clampLimit 0 取默认值，超过上限时截断
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return limit
	}
}

func digestStrings(ds []types.Digest) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}
