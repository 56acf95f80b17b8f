package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitvfs/gitvfs/internal/maintenance"
)

var forceMaintenance bool

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run due background maintenance steps against this enlistment",
	Long: `Runs the packfile, loose-object, commit-graph, and config maintenance
steps whose gate has elapsed, plus the ungated post-fetch step, skipping
any step while a git process is running against the enlistment. Intended to be invoked from a scheduler
(cron, systemd timer) against an unmounted or mounted enlistment alike.`,
	Args: cobra.NoArgs,
	RunE: runMaintenance,
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.Flags().BoolVar(&forceMaintenance, "force", false, "run every step regardless of its time gate or a running git process")
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	e, err := discoverEnlistment()
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	scheduler := maintenance.New(e.GateDir(), maintenance.Env{
		GitDir:  e.GitDir,
		PackDir: e.PackDir(),
		RequiredConfig: map[string]string{
			"core.virtualFilesystem": "true",
			"index.version":          "4",
		},
	}, maintenance.ProcRunningGitChecker{})

	ran, err := scheduler.RunDue(context.Background(), forceMaintenance)
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if len(ran) == 0 {
		fmt.Println("no steps were due")
		return nil
	}
	fmt.Printf("ran: %v\n", ran)
	return nil
}
