package cmd

import (
	"fmt"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/network"
	"github.com/perpetuallyhorni/trailercast/pkg/validator"
	"github.com/spf13/cobra"
)

// validateCmd checks a video against a target's requirements without publishing it.
var validateCmd = &cobra.Command{
	Use:   "validate <video-url|file>",
	Short: "Check a video against a target's technical requirements.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		video, err := videoFromArg(args[0], "")
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		key, err := requirementKey(target, cfg.X.Tier)
		if err != nil {
			return err
		}
		if _, err := validator.Lookup(key); err != nil {
			return err
		}

		httpClient, err := network.NewClient(network.Options{BindAddress: cfg.BindAddress, Timeout: cfg.HTTPTimeout})
		if err != nil {
			return err
		}
		v := validator.NewProbeValidator(cfg.FfprobePath, trailercast.NewLoader(httpClient, cfg.TempDir, fileLogger))

		console.StartProgress(fmt.Sprintf("Probing %s", video.Describe()))
		report, err := v.Validate(cmd.Context(), video, key)
		console.StopProgress()
		if err != nil {
			return fmt.Errorf("failed to validate %s: %w", video.Describe(), err)
		}

		for _, e := range report.Errors {
			console.Error("%s", e)
		}
		for _, w := range report.Warnings {
			console.Warn("%s", w)
		}
		for _, r := range report.Recommendations {
			console.Info("  %s", r)
		}
		if !report.Valid {
			return fmt.Errorf("video does not meet %s requirements", key)
		}
		console.Success("Video meets %s requirements", key)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringP("target", "t", string(trailercast.TargetInstagramReels), "Target whose requirements to check")
}
