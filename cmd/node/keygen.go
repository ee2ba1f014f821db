package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
)

var keygenFlags struct {
	out        string
	mnemonic   string
	passphrase string
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成节点密钥文件",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mnemonic := keygenFlags.mnemonic
		if mnemonic == "" {
			var err error
			if mnemonic, err = key.NewMnemonic(); err != nil {
				return err
			}
		}
		kp, err := key.FromMnemonic(mnemonic, keygenFlags.passphrase)
		if err != nil {
			return err
		}
		if err := kp.Save(keygenFlags.out); err != nil {
			return fmt.Errorf("save key: %w", err)
		}

		pterm.Success.Printfln("key written to %s", keygenFlags.out)
		return pterm.DefaultTable.WithData(pterm.TableData{
			{"name", string(kp.Name())},
			{"mnemonic", mnemonic},
		}).Render()
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenFlags.out, "out", "o", "node.key", "密钥输出路径")
	keygenCmd.Flags().StringVar(&keygenFlags.mnemonic, "mnemonic", "", "从已有助记词恢复（默认生成新助记词）")
	keygenCmd.Flags().StringVar(&keygenFlags.passphrase, "passphrase", "", "助记词口令")
}
