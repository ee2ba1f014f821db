// Package key 提供节点身份密钥对（secp256k1）的生成、持久化与签名验证
package key

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcec_ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"github.com/weisyn/ledgernode/pkg/types"
)

// 错误定义
var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
)

// mnemonicStrength 助记词熵长度（bit），对应 24 个单词
const mnemonicStrength = 256

// KeyPair 节点身份密钥对
type KeyPair struct {
	priv *btcec.PrivateKey
}

// Generate 随机生成密钥对
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// NewMnemonic 生成新的 BIP39 助记词
func NewMnemonic() (string, error) {
	entropy := make([]byte, mnemonicStrength/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic 由助记词与可选口令确定性派生密钥对
func FromMnemonic(mnemonic, passphrase string) (*KeyPair, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	digest := sha3.Sum256(seed)
	return FromBytes(digest[:])
}

// FromBytes 由 32 字节私钥构造密钥对
func FromBytes(raw []byte) (*KeyPair, error) {
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, ErrInvalidPrivateKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return &KeyPair{priv: priv}, nil
}

// Load 读取十六进制私钥文件
func Load(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return FromBytes(raw)
}

// Save 以十六进制写出私钥，文件权限 0600
func (k *KeyPair) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(k.priv.Serialize())+"\n"), 0o600)
}

// PublicKey 压缩公钥（33 字节）
func (k *KeyPair) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Name 权威节点名称
func (k *KeyPair) Name() types.AuthorityName {
	return NameFromPublicKey(k.PublicKey())
}

// Sign 对摘要签名（DER 编码）
func (k *KeyPair) Sign(digest types.Digest) []byte {
	return btcec_ecdsa.Sign(k.priv, digest[:]).Serialize()
}

// SignTransaction 填充交易签名
func (k *KeyPair) SignTransaction(tx *types.Transaction) {
	tx.Signature = k.Sign(tx.Digest())
}

// NameFromPublicKey 压缩公钥的 base58 编码
func NameFromPublicKey(pub []byte) types.AuthorityName {
	return types.AuthorityName(base58.Encode(pub))
}

// PublicKeyFromName 解析权威节点名称
func PublicKeyFromName(name types.AuthorityName) (*btcec.PublicKey, error) {
	raw, err := base58.Decode(string(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// Verify 用名称对应的公钥验证签名
func Verify(name types.AuthorityName, digest types.Digest, sig []byte) error {
	pub, err := PublicKeyFromName(name)
	if err != nil {
		return err
	}
	parsed, err := btcec_ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyTransaction 验证交易发送方签名
func VerifyTransaction(tx *types.Transaction) error {
	if len(tx.Signature) == 0 {
		return ErrInvalidSignature
	}
	return Verify(tx.Sender, tx.Digest(), tx.Signature)
}
