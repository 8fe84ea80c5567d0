package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/app"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/utils"
)

// SyncCommand returns the CLI command for running a synchronization pass
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Synchronize the vault with the remote store",
		Description: "Compares the local vault against the remote store and transfers whatever diverged. Conflicting edits are recorded for resolution instead of being overwritten.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show what would be transferred without changing anything",
				Value: false,
			},
		},
		Action: syncAction,
	}
}

// syncAction runs a single sync tick
func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	isDryRun := c.Bool("dry-run")
	loggy.Info("Starting manual sync", "dry_run", isDryRun)

	summary, err := application.Sync.Tick(c.Context, isDryRun)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return fmt.Errorf("sync failed: %w", err)
	}

	if isDryRun {
		utils.PrintHeading("Planned operations (dry run)")
		if len(summary.Planned) == 0 {
			utils.PrintInfo("Vault is already in sync")
			return nil
		}
		for _, planned := range summary.Planned {
			fmt.Println("  " + planned)
		}
		return nil
	}

	utils.PrintSuccess(fmt.Sprintf("Sync %s finished", summary.SyncID))
	utils.PrintKeyValue("Uploaded", fmt.Sprintf("%d", summary.Uploaded))
	utils.PrintKeyValue("Downloaded", fmt.Sprintf("%d", summary.Downloaded))
	utils.PrintKeyValue("Deleted", fmt.Sprintf("%d", summary.Deleted))
	utils.PrintKeyValue("Skipped", fmt.Sprintf("%d", summary.Skipped))

	if summary.Conflicts > 0 {
		utils.PrintWarning(fmt.Sprintf("%d conflict(s) recorded, run %s to inspect",
			summary.Conflicts, color.CyanString("vaultsync conflicts list")))
	}
	if summary.Failed > 0 {
		utils.PrintError(fmt.Sprintf("%d path(s) failed, see the log for details", summary.Failed))
	}
	return nil
}

// StatusCommand returns the CLI command for showing the sync session status
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show vault sync status",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	status, err := application.Sync.Status(c.Context)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	connection := status.Connection
	switch connection {
	case "connected":
		connection = color.GreenString(connection)
	case "reconnecting", "connecting":
		connection = color.YellowString(connection)
	case "error":
		connection = color.RedString(connection)
	}

	utils.PrintHeading("Vault status")
	utils.PrintKeyValue("Vault", application.Config.Vault.Root)
	utils.PrintKeyValue("Connection", connection)
	utils.PrintKeyValue("Tracked files", fmt.Sprintf("%d", status.TrackedFiles))
	utils.PrintKeyValue("Open conflicts", fmt.Sprintf("%d", status.OpenConflicts))
	utils.PrintKeyValue("Pending operations", fmt.Sprintf("%d", status.PendingOps))
	return nil
}
