package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DigestLength 摘要长度（SHA3-256）
const DigestLength = 32

// ErrInvalidDigest 摘要格式无效
var ErrInvalidDigest = errors.New("invalid digest")

// Digest 交易/批次/检查点摘要
type Digest [DigestLength]byte

// ZeroDigest 全零摘要
var ZeroDigest Digest

// Sum256 计算SHA3-256摘要
func Sum256(data []byte) Digest {
	return Digest(sha3.Sum256(data))
}

// ParseDigest 从十六进制字符串解析摘要
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != DigestLength {
		return d, fmt.Errorf("%w: length %d", ErrInvalidDigest, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// String 十六进制表示
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero 是否为零值
func (d Digest) IsZero() bool { return d == ZeroDigest }

// MarshalText 实现 encoding.TextMarshaler
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AuthorityName 权威节点名称（压缩公钥的 base58 编码）
type AuthorityName string

// Object 账本对象
type Object struct {
	ID      string                 `json:"id"`
	Owner   string                 `json:"owner"`
	Version uint64                 `json:"version"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// EventSpec 交易声明的事件
type EventSpec struct {
	Type   string                 `json:"type"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Transaction 已签名交易
type Transaction struct {
	Sender    AuthorityName `json:"sender"`
	Module    string        `json:"module"`
	Nonce     uint64        `json:"nonce"`
	Writes    []Object      `json:"writes,omitempty"`
	Events    []EventSpec   `json:"events,omitempty"`
	Signature []byte        `json:"signature,omitempty"`
}

// SigningBytes 返回参与签名的规范字节（不含签名字段）
func (tx *Transaction) SigningBytes() []byte {
	unsigned := *tx
	unsigned.Signature = nil
	data, err := json.Marshal(&unsigned)
	if err != nil {
		// 字段均为可序列化类型，Marshal 仅在 Data 中含不可序列化值时失败
		panic(fmt.Sprintf("transaction is not serializable: %v", err))
	}
	return data
}

// Digest 交易摘要
func (tx *Transaction) Digest() Digest {
	return Sum256(tx.SigningBytes())
}

// Event 已执行交易产生的事件
type Event struct {
	TxDigest  Digest                 `json:"tx_digest"`
	Sequence  uint64                 `json:"sequence"`
	Index     int                    `json:"index"`
	Module    string                 `json:"module"`
	Sender    AuthorityName          `json:"sender"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp int64                  `json:"timestamp_ms"`
}

// ExecutedTransaction 已执行交易及其效果
type ExecutedTransaction struct {
	Sequence    uint64      `json:"sequence"`
	Digest      Digest      `json:"digest"`
	Transaction Transaction `json:"transaction"`
	Objects     []Object    `json:"objects,omitempty"`
	Events      []Event     `json:"events,omitempty"`
	Timestamp   int64       `json:"timestamp_ms"`
}

// Batch 已封装的执行批次，供跟随者拉取
type Batch struct {
	Sequence      uint64   `json:"sequence"`
	FirstTx       uint64   `json:"first_tx"`
	LastTx        uint64   `json:"last_tx"`
	Transactions  []Digest `json:"transactions"`
	PreviousBatch Digest   `json:"previous_batch"`
	Digest        Digest   `json:"digest"`
	Timestamp     int64    `json:"timestamp_ms"`
}

// ComputeDigest 计算批次摘要（覆盖序号、区间、交易列表与前序批次）
func (b *Batch) ComputeDigest() Digest {
	body := struct {
		Sequence      uint64   `json:"sequence"`
		FirstTx       uint64   `json:"first_tx"`
		LastTx        uint64   `json:"last_tx"`
		Transactions  []Digest `json:"transactions"`
		PreviousBatch Digest   `json:"previous_batch"`
	}{b.Sequence, b.FirstTx, b.LastTx, b.Transactions, b.PreviousBatch}
	data, _ := json.Marshal(body)
	return Sum256(data)
}

// Checkpoint 验证者签名的检查点片段
type Checkpoint struct {
	Sequence    uint64        `json:"sequence"`
	Epoch       uint64        `json:"epoch"`
	Authority   AuthorityName `json:"authority"`
	BatchDigest Digest        `json:"batch_digest"`
	Signature   []byte        `json:"signature"`
}

// SigningDigest 检查点签名摘要
func (c *Checkpoint) SigningDigest() Digest {
	body := fmt.Sprintf("checkpoint:%d:%d:%s:%s", c.Epoch, c.Sequence, c.Authority, c.BatchDigest)
	return Sum256([]byte(body))
}
