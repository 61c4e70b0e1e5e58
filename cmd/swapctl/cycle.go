package main

import (
	"fmt"
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"section-swap/backend/internal/service"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "执行一次完整匹配周期（先回收过期，再匹配）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp(cmd)
		res, err := a.svc.Cycle.RunMatchingCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("匹配周期失败: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "回收过期匹配 %s 组，新匹配 %s 对，耗时 %s\n",
			humanize.Comma(int64(res.ExpiredCount)),
			humanize.Comma(int64(res.MatchesFound)),
			res.Duration.Round(time.Millisecond),
		)
		printPairs(out, res.Pairs)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "仅回收保留期已过的匹配",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp(cmd)
		res, err := a.svc.Cycle.RunSweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("过期回收失败: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "回收过期匹配 %s 组（异常组 %d，失败 %d）\n",
			humanize.Comma(int64(res.ExpiredCount)), res.Inconsistent, res.Failed)
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "仅执行匹配",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp(cmd)
		res, err := a.svc.Cycle.RunMatch(cmd.Context())
		if err != nil {
			return fmt.Errorf("匹配失败: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "新匹配 %s 对（跳过 %d，写入失败 %d）\n",
			humanize.Comma(int64(res.MatchesFound)), res.Skipped, res.Failed)
		printPairs(out, res.Pairs)
		return nil
	},
}

func printPairs(w io.Writer, pairs []service.MatchedPair) {
	for _, p := range pairs {
		fmt.Fprintf(w, "  %-6s %s <-> %s  保留期至 %s（%s）\n",
			p.Branch, p.First, p.Second,
			p.ExpiresAt.Local().Format("2006-01-02 15:04"),
			humanize.Time(p.ExpiresAt),
		)
	}
}

func init() {
	rootCmd.AddCommand(cycleCmd, sweepCmd, matchCmd)
}
