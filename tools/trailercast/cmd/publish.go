package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/spf13/cobra"
)

// publishCmd represents the 'publish' command.
var publishCmd = &cobra.Command{
	Use:   "publish <video-url|file>",
	Short: "Publish a video to one or more targets.",
	Long: `Publishes a video to the given targets in parallel.

Targets: instagram_feed, instagram_reels, facebook, threads, tiktok, x, or "all".
Instagram only accepts public video URLs because the Graph API fetches the file itself.
A video with --source-id is skipped on targets it was already published to unless --force is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	sourceID, _ := flags.GetString("source-id")
	video, err := videoFromArg(args[0], sourceID)
	if err != nil {
		return err
	}

	targets := appClient.Targets()
	if val, _ := flags.GetString("targets"); val != "" {
		if targets, err = trailercast.ParseTargets(val); err != nil {
			return err
		}
	}

	job := trailercast.PublishJob{Video: video}
	job.Caption, _ = flags.GetString("caption")
	job.Title, _ = flags.GetString("title")
	job.PrivacyLevel, _ = flags.GetString("privacy")
	job.LocationID, _ = flags.GetString("location")
	job.Collaborators, _ = flags.GetStringSlice("collaborators")
	job.ReplyToTweetID, _ = flags.GetString("reply-to")
	job.QuoteTweetID, _ = flags.GetString("quote")
	job.DisableComment, _ = flags.GetBool("disable-comments")
	if flags.Changed("share-to-feed") {
		v, _ := flags.GetBool("share-to-feed")
		job.ShareToFeed = &v
	}
	force, _ := flags.GetBool("force")
	asJSON, _ := flags.GetBool("json")

	console.Info("Publishing %s to %d target(s) with %d worker(s)...", video.Describe(), len(targets), cfg.MaxWorkers)
	console.StartProgress(fmt.Sprintf("Publishing to %s", joinTargets(targets)))
	results := appClient.PublishAll(cmd.Context(), job, targets, force, func(current, total int, msg string) {
		console.UpdateProgress(fmt.Sprintf("%d/%d done, last: %s", current, total, msg))
	})
	console.StopProgress()

	failed := 0
	for _, r := range results {
		switch {
		case r.Success:
			console.Success("%s", formatResult(r))
		case r.Skipped:
			console.Warn("%s", formatResult(r))
		default:
			failed++
			console.Error("%s", formatResult(r))
		}
		if val, _ := flags.GetBool("verbose"); val {
			for _, line := range r.Logs {
				console.Info("    %s", console.Gray.Sprint(line))
			}
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d target(s) failed", failed, len(results))
	}
	return nil
}

func joinTargets(targets []trailercast.Target) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func init() {
	f := publishCmd.Flags()
	f.StringP("targets", "t", "", `Comma separated targets, e.g. "instagram_reels,tiktok,x" (default: all configured)`)
	f.String("caption", "", "Caption or tweet text")
	f.String("title", "", "Title for TikTok (max 150 characters) and Facebook")
	f.String("source-id", "", "Upstream id of the trailer, used to skip duplicates")
	f.BoolP("force", "f", false, "Publish even if the source id was already published to a target")
	f.String("privacy", "", "TikTok privacy level (overrides config)")
	f.Bool("disable-comments", false, "Disable comments on TikTok")
	f.String("location", "", "Instagram location id")
	f.StringSlice("collaborators", nil, "Instagram collaborator usernames")
	f.Bool("share-to-feed", true, "Share Instagram reels to the main feed")
	f.String("reply-to", "", "Tweet id to reply to on X")
	f.String("quote", "", "Tweet id to quote on X")
	f.Bool("json", false, "Print results as JSON on stdout")
	f.BoolP("verbose", "v", false, "Print each target's step log")
}
