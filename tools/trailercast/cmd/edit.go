package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
	cliconfig "github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// editCmd is the parent command for editing files trailercast reads.
var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration or a platform token in your editor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var editConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			var err error
			if path, err = xdg.ConfigFile(filepath.Join(cliconfig.AppName, "config.yaml")); err != nil {
				return fmt.Errorf("could not determine default config file path: %w", err)
			}
		}
		// The config file itself was written by Load during initialization.
		return editFile(cmd, "config file", path)
	},
}

var editTokenCmd = &cobra.Command{
	Use:       "token <platform>",
	Short:     "Edit the stored OAuth token of a platform.",
	Long:      `Opens <token_dir>/<platform>_token.json, creating an empty token first if none exists.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: platformNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := trailercast.Platform(strings.ToLower(args[0]))
		if !knownPlatform(platform) {
			return fmt.Errorf("unknown platform %q (want one of %s)", args[0], strings.Join(platformNames(), ", "))
		}
		store := tokens.NewFileStore(cfg.TokenDir)
		tok, err := store.GetToken(cmd.Context(), platform)
		if err != nil {
			return err
		}
		if tok == nil {
			if err := store.SaveToken(platform, &oauth2.Token{TokenType: "Bearer"}); err != nil {
				return err
			}
		}
		if err := editFile(cmd, string(platform)+" token", store.Path(platform)); err != nil {
			return err
		}
		// Re-check so a broken edit is reported now rather than at publish time.
		if _, err := tokens.Require(cmd.Context(), store, platform); err != nil {
			console.Warn("%v", err)
			return nil
		}
		console.Success("The %s token is valid.", platform)
		return nil
	},
}

func platformNames() []string {
	names := make([]string, len(trailercast.AllPlatforms))
	for i, p := range trailercast.AllPlatforms {
		names[i] = string(p)
	}
	return names
}

func knownPlatform(p trailercast.Platform) bool {
	for _, known := range trailercast.AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// editFile opens path in the user's editor and waits for it to exit.
func editFile(cmd *cobra.Command, what, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", what, err)
	}
	editor, err := determineEditor(cmd)
	if err != nil {
		return err
	}
	console.Info("Opening %s with '%s': %s", what, strings.Join(editor, " "), path)

	// #nosec G204 -- the editor comes from the flag, the config or $EDITOR.
	c := exec.Command(editor[0], append(editor[1:], path)...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor exited with an error: %w", err)
	}
	return nil
}

// determineEditor returns the editor command line, split into words so that values like
// "code --wait" work. The flag wins over the config, which wins over $VISUAL and $EDITOR.
func determineEditor(cmd *cobra.Command) ([]string, error) {
	flagEditor, _ := cmd.Flags().GetString("editor")
	for _, candidate := range []string{flagEditor, cfg.Editor, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if fields := strings.Fields(candidate); len(fields) > 0 {
			return fields, nil
		}
	}

	fallbacks := []string{"nano", "vi", "vim"}
	if runtime.GOOS == "windows" {
		fallbacks = []string{"notepad"}
	}
	for _, name := range fallbacks {
		if path, err := exec.LookPath(name); err == nil {
			return []string{path}, nil
		}
	}
	return nil, fmt.Errorf("no suitable editor found. please set the --editor flag, 'editor' in your config, or the $EDITOR environment variable")
}

func init() {
	editCmd.PersistentFlags().String("editor", "", "Editor to use, e.g. 'code --wait' or 'vim'. Overrides config and $EDITOR.")
	editCmd.AddCommand(editConfigCmd)
	editCmd.AddCommand(editTokenCmd)
}
