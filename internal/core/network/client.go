package network

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/weisyn/ledgernode/pkg/types"
)

// AuthorityClient 连接单个验证者，每次调用带请求超时
type AuthorityClient struct {
	name           types.AuthorityName
	address        string
	conn           *grpc.ClientConn
	client         *ValidatorClient
	requestTimeout time.Duration
}

// NewAuthorityClient 惰性连接验证者
func NewAuthorityClient(cfg Config, name types.AuthorityName, address string) (*AuthorityClient, error) {
	conn, err := cfg.ConnectLazy(address)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", name, err)
	}
	return &AuthorityClient{
		name:           name,
		address:        address,
		conn:           conn,
		client:         NewValidatorClient(conn),
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Name 对端名称
func (c *AuthorityClient) Name() types.AuthorityName { return c.name }

// Address 对端地址
func (c *AuthorityClient) Address() string { return c.address }

func (c *AuthorityClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// SubmitTransaction 提交交易并返回执行结果
func (c *AuthorityClient) SubmitTransaction(ctx context.Context, tx *types.Transaction) (*types.ExecutedTransaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.SubmitTransaction(ctx, &SubmitTransactionRequest{Transaction: *tx})
	if err != nil {
		return nil, err
	}
	return resp.Executed, nil
}

// TransactionInfo 按摘要查询已执行交易
func (c *AuthorityClient) TransactionInfo(ctx context.Context, digest types.Digest) (*types.ExecutedTransaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.TransactionInfo(ctx, &TransactionInfoRequest{Digest: digest})
	if err != nil {
		return nil, err
	}
	return resp.Executed, nil
}

// BatchInfo 拉取从 start 起最多 limit 个批次
func (c *AuthorityClient) BatchInfo(ctx context.Context, start uint64, limit int) ([]*types.Batch, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.BatchInfo(ctx, &BatchInfoRequest{Start: start, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// Close 关闭连接
func (c *AuthorityClient) Close() error { return c.conn.Close() }

// ValidatorAddress 验证者名称与地址
type ValidatorAddress struct {
	Name    types.AuthorityName
	Address string
}

// NewAuthorityClients 为每个验证者创建惰性客户端；任一失败时关闭已创建的客户端
func NewAuthorityClients(cfg Config, validators []ValidatorAddress) (map[types.AuthorityName]*AuthorityClient, error) {
	clients := make(map[types.AuthorityName]*AuthorityClient, len(validators))
	for _, v := range validators {
		c, err := NewAuthorityClient(cfg, v.Name, v.Address)
		if err != nil {
			for _, opened := range clients {
				_ = opened.Close()
			}
			return nil, err
		}
		clients[v.Name] = c
	}
	return clients, nil
}
