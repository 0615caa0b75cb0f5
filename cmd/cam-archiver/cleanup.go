// cmd/cam-archiver/cleanup.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sua-org/cam-archiver/internal/retention"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Executa uma rodada de retenção (idade + espaço) e sai",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		ret := retention.NewManager(cfg.ArchiveRoot, cfg.RetentionPolicy(), cfg.RetentionInterval)
		if store := newOffloader(ctx, cfg); store != nil {
			ret.SetOffloader(store)
		}
		rep := ret.RunOnce(ctx)

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		fmt.Printf("removidas por idade:  %d\n", rep.DeletedByAge)
		fmt.Printf("removidas por espaço: %d\n", rep.DeletedBySpace)
		fmt.Printf("falhas:               %d\n", rep.Failures)
		fmt.Printf("espaço livre:         %.1f%%\n", rep.FreePercent)
		return nil
	},
}
