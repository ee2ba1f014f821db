// Command ledger-node 启动验证者或全节点，并提供密钥与本地网络的生成工具
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledger-node",
	Short: "账本节点",
	Long: `ledger-node 以验证者或全节点身份运行账本节点。

配置中存在 consensus_config 时以验证者运行，否则以全节点运行。
keygen 与 genesis 子命令用于生成节点密钥和本地测试网络。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(genesisCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
