package cmd

import (
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/storage"
	"github.com/spf13/cobra"
)

// historyCmd lists recorded publishes.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List successful publishes, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := storage.HistoryFilter{}
		filter.Target, _ = cmd.Flags().GetString("target")
		filter.SourceID, _ = cmd.Flags().GetString("source-id")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		recs, err := appClient.History(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			console.Info("No publishes recorded.")
			return nil
		}
		console.Table(historyRows(recs))
		return nil
	},
}

func historyRows(recs []storage.PublishRecord) [][]string {
	rows := [][]string{{"PUBLISHED", "TARGET", "SOURCE", "POST", "ATTEMPT"}}
	for _, r := range recs {
		source := r.SourceID
		if source == "" {
			source = "-"
		}
		rows = append(rows, []string{r.PublishedAt.Local().Format(time.DateTime), r.Target, source, r.PostID, r.ID})
	}
	return rows
}

func init() {
	historyCmd.Flags().String("target", "", "Only show publishes to this target")
	historyCmd.Flags().String("source-id", "", "Only show publishes of this source id")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of rows (0 for all)")
}
