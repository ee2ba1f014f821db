package network

import (
	"context"

	"google.golang.org/grpc"

	"github.com/weisyn/ledgernode/pkg/types"
)

// ValidatorServiceName 验证者服务全名
const ValidatorServiceName = "ledger.v1.Validator"

const (
	methodSubmitTransaction = "/" + ValidatorServiceName + "/SubmitTransaction"
	methodTransactionInfo   = "/" + ValidatorServiceName + "/TransactionInfo"
	methodBatchInfo         = "/" + ValidatorServiceName + "/BatchInfo"
)

// SubmitTransactionRequest 提交交易
type SubmitTransactionRequest struct {
	Transaction types.Transaction `json:"transaction"`
}

// SubmitTransactionResponse 执行结果
type SubmitTransactionResponse struct {
	Executed *types.ExecutedTransaction `json:"executed"`
}

// TransactionInfoRequest 按摘要查询交易
type TransactionInfoRequest struct {
	Digest types.Digest `json:"digest"`
}

// TransactionInfoResponse 查询结果
type TransactionInfoResponse struct {
	Executed *types.ExecutedTransaction `json:"executed"`
}

// BatchInfoRequest 拉取从 Start 起的批次
type BatchInfoRequest struct {
	Start uint64 `json:"start"`
	Limit int    `json:"limit"`
}

// BatchInfoResponse 批次列表
type BatchInfoResponse struct {
	Batches []*types.Batch `json:"batches"`
}

// ValidatorServer 验证者服务端
type ValidatorServer interface {
	SubmitTransaction(context.Context, *SubmitTransactionRequest) (*SubmitTransactionResponse, error)
	TransactionInfo(context.Context, *TransactionInfoRequest) (*TransactionInfoResponse, error)
	BatchInfo(context.Context, *BatchInfoRequest) (*BatchInfoResponse, error)
}

// ValidatorServiceDesc 验证者服务描述
var ValidatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ValidatorServiceName,
	HandlerType: (*ValidatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTransaction", Handler: submitTransactionHandler},
		{MethodName: "TransactionInfo", Handler: transactionInfoHandler},
		{MethodName: "BatchInfo", Handler: batchInfoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/validator.json",
}

func submitTransactionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).SubmitTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitTransaction}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ValidatorServer).SubmitTransaction(ctx, req.(*SubmitTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func transactionInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TransactionInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).TransactionInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTransactionInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ValidatorServer).TransactionInfo(ctx, req.(*TransactionInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func batchInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BatchInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).BatchInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodBatchInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ValidatorServer).BatchInfo(ctx, req.(*BatchInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ValidatorClient 验证者服务客户端
type ValidatorClient struct {
	cc grpc.ClientConnInterface
}

// NewValidatorClient 基于连接创建客户端
func NewValidatorClient(cc grpc.ClientConnInterface) *ValidatorClient {
	return &ValidatorClient{cc: cc}
}

// SubmitTransaction 提交交易
func (c *ValidatorClient) SubmitTransaction(ctx context.Context, in *SubmitTransactionRequest, opts ...grpc.CallOption) (*SubmitTransactionResponse, error) {
	out := new(SubmitTransactionResponse)
	if err := c.cc.Invoke(ctx, methodSubmitTransaction, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// TransactionInfo 查询交易
func (c *ValidatorClient) TransactionInfo(ctx context.Context, in *TransactionInfoRequest, opts ...grpc.CallOption) (*TransactionInfoResponse, error) {
	out := new(TransactionInfoResponse)
	if err := c.cc.Invoke(ctx, methodTransactionInfo, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchInfo 拉取批次
func (c *ValidatorClient) BatchInfo(ctx context.Context, in *BatchInfoRequest, opts ...grpc.CallOption) (*BatchInfoResponse, error) {
	out := new(BatchInfoResponse)
	if err := c.cc.Invoke(ctx, methodBatchInfo, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
