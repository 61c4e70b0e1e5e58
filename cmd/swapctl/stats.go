package main

import (
	"fmt"
	"sort"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"section-swap/backend/internal/model"
	"section-swap/backend/pkg/database"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "查看申请统计",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp(cmd)
		stats, err := a.svc.Swap.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("查询统计失败: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "按状态:")
		for _, st := range []model.SwapStatus{
			model.SwapStatusPending, model.SwapStatusMatched,
			model.SwapStatusCompleted, model.SwapStatusCancelled,
		} {
			fmt.Fprintf(out, "  %-10s %s\n", st, humanize.Comma(stats.ByStatus[string(st)]))
		}

		fmt.Fprintln(out, "按专业:")
		branches := make([]string, 0, len(stats.ByBranch))
		for b := range stats.ByBranch {
			branches = append(branches, b)
		}
		sort.Strings(branches)
		for _, b := range branches {
			fmt.Fprintf(out, "  %-10s %s\n", b, humanize.Comma(stats.ByBranch[b]))
		}
		fmt.Fprintf(out, "已完成互换: %s\n", humanize.Comma(stats.CompletedSwaps))

		if sqlDB, err := a.db.DB(); err == nil {
			if v, dirty, err := database.MigrationVersion(sqlDB); err == nil {
				fmt.Fprintf(out, "数据库版本: %d（dirty=%t）\n", v, dirty)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
