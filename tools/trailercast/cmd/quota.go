package cmd

import (
	"fmt"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/client"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/spf13/cobra"
)

// quotaCmd shows the quota usage of every adapter.
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show posting quota usage per platform.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console.Table(quotaRows(appClient.QuotaUsage(cmd.Context()), time.Now()))
		return nil
	},
}

// quotaResetCmd clears quota counters.
var quotaResetCmd = &cobra.Command{
	Use:   "reset [platform]",
	Short: "Reset quota counters for one platform, or all of them.",
	Long: `Resets quota counters. The argument may be an adapter (meta, tiktok, x), a platform
(instagram, facebook) or a target (instagram_reels). Without an argument every counter is reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if err := appClient.ResetQuotas(cmd.Context(), name); err != nil {
			return err
		}
		if name == "" {
			console.Success("All quotas reset")
		} else {
			console.Success("Quotas reset for %s", name)
		}
		return nil
	},
}

func quotaRows(usage []client.AdapterQuota, now time.Time) [][]string {
	rows := [][]string{{"ADAPTER", "BUCKET", "USED", "REMAINING", "RESETS IN"}}
	for _, a := range usage {
		if a.Error != "" {
			rows = append(rows, []string{a.Adapter, "-", "-", "-", "error: " + a.Error})
			continue
		}
		for _, u := range a.Usage {
			rows = append(rows, []string{
				a.Adapter,
				u.Bucket,
				fmt.Sprintf("%d/%d", u.Used, u.Limit),
				fmt.Sprintf("%d", u.Remaining()),
				resetsIn(u, now),
			})
		}
	}
	return rows
}

func resetsIn(u ratelimiter.Usage, now time.Time) string {
	if u.ResetAt.IsZero() {
		return "-"
	}
	return ratelimiter.FormatRemaining(u.ResetAt.Sub(now))
}

func init() {
	quotaCmd.AddCommand(quotaResetCmd)
}
