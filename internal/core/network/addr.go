package network

import (
	"errors"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// ErrUnsupportedAddress 地址不是 ip/dns + tcp 形式
var ErrUnsupportedAddress = errors.New("unsupported network address")

var hostProtocols = []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6}

// DialTarget 将 multiaddr 转换为 gRPC 拨号目标 host:port
func DialTarget(addr string) (string, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrUnsupportedAddress, addr, err)
	}
	port, err := maddr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("%w %q: missing tcp port", ErrUnsupportedAddress, addr)
	}
	for _, code := range hostProtocols {
		if host, err := maddr.ValueForProtocol(code); err == nil {
			return net.JoinHostPort(host, port), nil
		}
	}
	return "", fmt.Errorf("%w %q: missing host", ErrUnsupportedAddress, addr)
}
