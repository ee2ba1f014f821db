package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/weisyn/ledgernode/internal/app"
)

var runFlags struct {
	configPath string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "按配置文件启动节点",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runFlags.configPath == "" {
			return errors.New("--config is required")
		}
		a, err := app.Start(app.WithConfigFile(runFlags.configPath))
		if err != nil {
			return err
		}
		if code := a.Wait(); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", "", "节点配置文件路径（.json 或 .toml）")
}
