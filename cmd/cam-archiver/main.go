// cmd/cam-archiver/main.go
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sua-org/cam-archiver/internal/config"
	"github.com/sua-org/cam-archiver/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "cam-archiver",
	Short: "Grava streams RTSP em segmentos e mantém o arquivo em disco",
	Long: `cam-archiver supervisiona um processo de captura por câmera,
reinicia capturas travadas ou antigas e aplica retenção por idade e espaço livre.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()

		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c

		closer, err := logging.Setup(cfg.LogFile)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "arquivo de config YAML (env tem prioridade)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "saída em JSON")

	rootCmd.AddCommand(runCmd, cleanupCmd, camerasCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
