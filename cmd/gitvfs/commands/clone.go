package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gitvfs/gitvfs/internal/config"
	"github.com/gitvfs/gitvfs/internal/enlistment"
	"github.com/gitvfs/gitvfs/internal/gitproc"
)

var cacheServerURL string

var cloneCmd = &cobra.Command{
	Use:   "clone <repo-url> <destination>",
	Short: "Clone a repository into a fresh gitvfs enlistment",
	Long: `Clones repo-url into destination's .git directory without checking
out a working tree (--no-checkout), then lays out the .gvfs control
directory a subsequent mount expects.`,
	Args: cobra.ExactArgs(2),
	RunE: runClone,
}

func init() {
	rootCmd.AddCommand(cloneCmd)
	cloneCmd.Flags().StringVar(&cacheServerURL, "cache-server-url", "", "object cache server to record in config.dat")
}

func runClone(cmd *cobra.Command, args []string) error {
	repoURL, dest := args[0], args[1]

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("clone: create destination: %w", err)
	}

	if _, _, err := gitproc.Run(cmd.Context(), []string{"clone", "--no-checkout", repoURL, dest}, gitproc.Options{}); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	e, err := enlistment.Init(dest)
	if err != nil {
		return fmt.Errorf("clone: init enlistment: %w", err)
	}
	if _, err := e.EnlistmentID(); err != nil {
		return fmt.Errorf("clone: mint enlistment id: %w", err)
	}

	if err := applyRequiredGitConfig(cmd.Context(), e); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	if err := writeInitialConfig(e, cacheServerURL); err != nil {
		return fmt.Errorf("clone: write config: %w", err)
	}

	fmt.Printf("cloned %s into %s; run `gitvfs mount %s` to mount it\n", repoURL, dest, dest)
	return nil
}

// applyRequiredGitConfig sets the repository config the Config
// maintenance step would otherwise have to fix up on its first run, so a
// freshly cloned enlistment is mountable immediately.
func applyRequiredGitConfig(ctx context.Context, e *enlistment.Enlistment) error {
	required := map[string]string{
		"core.virtualFilesystem": "true",
		"index.version":          "4",
	}
	for key, value := range required {
		if _, _, err := gitproc.Run(ctx, []string{"config", key, value}, gitproc.Options{Dir: e.GitDir}); err != nil {
			return fmt.Errorf("set config %s: %w", key, err)
		}
	}
	return nil
}

func writeInitialConfig(e *enlistment.Enlistment, cacheServerURL string) error {
	cfg := config.Default()
	cfg.CacheServerURL = cacheServerURL

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := config.ConfigPath(e.WorkingDir)
	if err := os.MkdirAll(e.ControlDir, 0o755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
