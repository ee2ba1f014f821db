package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	config "github.com/weisyn/ledgernode/internal/config"
	"github.com/weisyn/ledgernode/internal/core/genesis"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 端口布局：验证者节点间 RPC 从 basePort 起，全节点紧随其后；
// 共识地址与指标地址分别偏移 consensusOffset 与 metricsOffset
const (
	consensusOffset = 100
	metricsOffset   = 200
	objectBalance   = 1000.0
)

var genesisFlags struct {
	out        string
	validators int
	basePort   int
	rpcPort    int
	stake      uint64
}

// networkFiles 生成的本地网络文件
type networkFiles struct {
	Genesis    string
	Validators []nodeFiles
	FullNode   nodeFiles
}

type nodeFiles struct {
	Name    types.AuthorityName
	Address string
	Config  string
	Key     string
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "生成本地测试网络：创世文件、验证者与全节点配置",
	RunE: func(cmd *cobra.Command, _ []string) error {
		files, err := buildNetwork(genesisFlags.out, genesisFlags.validators, genesisFlags.basePort, genesisFlags.rpcPort, genesisFlags.stake)
		if err != nil {
			return err
		}

		data := pterm.TableData{{"role", "name", "network address", "config"}}
		for _, v := range files.Validators {
			data = append(data, []string{"validator", string(v.Name), v.Address, v.Config})
		}
		data = append(data, []string{"full_node", string(files.FullNode.Name), files.FullNode.Address, files.FullNode.Config})

		pterm.Success.Printfln("genesis written to %s", files.Genesis)
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	genesisCmd.Flags().StringVarP(&genesisFlags.out, "out", "o", "devnet", "输出目录")
	genesisCmd.Flags().IntVarP(&genesisFlags.validators, "validators", "n", 4, "验证者数量")
	genesisCmd.Flags().IntVar(&genesisFlags.basePort, "base-port", 9100, "首个验证者的节点间 RPC 端口")
	genesisCmd.Flags().IntVar(&genesisFlags.rpcPort, "rpc-port", 9000, "全节点 JSON-RPC 端口，订阅端口为其后一位")
	genesisCmd.Flags().Uint64Var(&genesisFlags.stake, "stake", 1, "每个验证者的权益")
}

func tcpAddr(port int) string {
	return "/ip4/127.0.0.1/tcp/" + strconv.Itoa(port)
}

func hostPort(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}

// buildNetwork 为 n 个验证者与一个全节点生成密钥、创世与配置文件
func buildNetwork(dir string, n, basePort, rpcPort int, stake uint64) (*networkFiles, error) {
	if n < 1 {
		return nil, errors.New("at least one validator is required")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	files := &networkFiles{Genesis: filepath.Join(dir, "genesis.json")}

	builder := genesis.NewBuilder()
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("validator-%d", i)
		kp, keyPath, err := newKey(dir, label)
		if err != nil {
			return nil, err
		}
		addr := tcpAddr(basePort + i)
		builder.AddValidator(kp.Name(), addr, stake).
			AddObject(types.Object{
				ID:    fmt.Sprintf("coin-%d", i),
				Owner: string(kp.Name()),
				Data:  map[string]interface{}{"balance": objectBalance},
			})

		cfg := &types.AppConfig{
			Node: &types.UserNodeConfig{
				NetworkAddress: types.StringPtr(addr),
				MetricsAddress: types.StringPtr(hostPort(basePort + metricsOffset + i)),
				DBPath:         types.StringPtr(filepath.Join(dir, label, "db")),
				KeyPairPath:    types.StringPtr(keyPath),
				GenesisPath:    types.StringPtr(files.Genesis),
				Consensus: &types.UserConsensusConfig{
					ConsensusAddress: types.StringPtr(tcpAddr(basePort + consensusOffset + i)),
					ConsensusDBPath:  types.StringPtr(filepath.Join(dir, label, "consensus_db")),
				},
			},
			Log: &types.UserLogConfig{FilePath: types.StringPtr(filepath.Join(dir, label, "node.log"))},
		}
		cfgPath := filepath.Join(dir, label+".json")
		if err := config.SaveFile(cfgPath, cfg); err != nil {
			return nil, err
		}
		files.Validators = append(files.Validators, nodeFiles{Name: kp.Name(), Address: addr, Config: cfgPath, Key: keyPath})
	}

	g, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build genesis: %w", err)
	}
	if err := g.Save(files.Genesis); err != nil {
		return nil, fmt.Errorf("save genesis: %w", err)
	}

	kp, keyPath, err := newKey(dir, "full-node")
	if err != nil {
		return nil, err
	}
	addr := tcpAddr(basePort + n)
	cfg := &types.AppConfig{
		Node: &types.UserNodeConfig{
			NetworkAddress:        types.StringPtr(addr),
			MetricsAddress:        types.StringPtr(hostPort(basePort + metricsOffset + n)),
			JSONRPCAddress:        types.StringPtr(hostPort(rpcPort)),
			WebsocketAddress:      types.StringPtr(hostPort(rpcPort + 1)),
			DBPath:                types.StringPtr(filepath.Join(dir, "full-node", "db")),
			KeyPairPath:           types.StringPtr(keyPath),
			GenesisPath:           types.StringPtr(files.Genesis),
			EnableEventProcessing: types.BoolPtr(true),
		},
		Log: &types.UserLogConfig{FilePath: types.StringPtr(filepath.Join(dir, "full-node", "node.log"))},
	}
	cfgPath := filepath.Join(dir, "full-node.json")
	if err := config.SaveFile(cfgPath, cfg); err != nil {
		return nil, err
	}
	files.FullNode = nodeFiles{Name: kp.Name(), Address: addr, Config: cfgPath, Key: keyPath}
	return files, nil
}

func newKey(dir, label string) (*key.KeyPair, string, error) {
	mnemonic, err := key.NewMnemonic()
	if err != nil {
		return nil, "", err
	}
	kp, err := key.FromMnemonic(mnemonic, "")
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, label+".key")
	if err := kp.Save(path); err != nil {
		return nil, "", fmt.Errorf("save %s key: %w", label, err)
	}
	return kp, path, nil
}
