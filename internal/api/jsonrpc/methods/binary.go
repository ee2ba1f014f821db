package methods

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	apitypes "github.com/weisyn/ledgernode/internal/api/types"
	"github.com/weisyn/ledgernode/pkg/types"
)

// RawObject 对象的二进制编码
type RawObject struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	// Bytes 确定性 protobuf 编码的 google.protobuf.Struct，base64
	Bytes string `json:"bytes"`
}

// ObjectReader 对象读取
type ObjectReader interface {
	Object(id string) (*types.Object, error)
}

// BinaryAPI 二进制编码的对象查询
type BinaryAPI struct {
	state ObjectReader
}

// NewBinaryAPI 创建二进制查询模块
func NewBinaryAPI(state ObjectReader) *BinaryAPI {
	return &BinaryAPI{state: state}
}

// Name 模块名
func (a *BinaryAPI) Name() string { return "binary_read" }

// Methods 方法表
func (a *BinaryAPI) Methods() map[string]jsonrpc.MethodHandler {
	return map[string]jsonrpc.MethodHandler{
		"ledger_getRawObject": a.GetRawObject,
	}
}

// GetRawObject 读取对象的二进制编码
// Params: [id: string]
func (a *BinaryAPI) GetRawObject(_ context.Context, params json.RawMessage) (interface{}, error) {
	var id string
	if err := parsePositional(params, 1, &id); err != nil {
		return nil, err
	}
	obj, err := a.state.Object(id)
	if err != nil {
		return nil, storageError(err, func() *apitypes.ProblemDetails { return NewObjectNotFoundError(id) })
	}
	raw, err := EncodeObject(obj)
	if err != nil {
		return nil, NewInternalError(err.Error(), map[string]interface{}{"id": id})
	}
	return &RawObject{ID: obj.ID, Version: obj.Version, Bytes: base64.StdEncoding.EncodeToString(raw)}, nil
}

// EncodeObject 对象的确定性二进制编码
func EncodeObject(obj *types.Object) ([]byte, error) {
	data := obj.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	st, err := structpb.NewStruct(map[string]interface{}{
		"id":      obj.ID,
		"owner":   obj.Owner,
		"version": obj.Version,
		"data":    data,
	})
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

// DecodeObject EncodeObject 的逆过程
func DecodeObject(raw []byte) (*types.Object, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	m := st.AsMap()
	obj := &types.Object{}
	if v, ok := m["id"].(string); ok {
		obj.ID = v
	}
	if v, ok := m["owner"].(string); ok {
		obj.Owner = v
	}
	if v, ok := m["version"].(float64); ok {
		obj.Version = uint64(v)
	}
	if v, ok := m["data"].(map[string]interface{}); ok && len(v) > 0 {
		obj.Data = v
	}
	return obj, nil
}
