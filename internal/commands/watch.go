package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/app"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/utils"
)

// WatchCommand returns the CLI command for continuous synchronization
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:        "watch",
		Usage:       "Watch the vault and synchronize continuously",
		Description: "Runs an initial sync pass, then watches the vault for local changes and holds a realtime connection for remote ones. Local edits are queued and replayed; remote edits are applied as they arrive. Stops on interrupt.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-initial-sync",
				Usage: "Skip the full sync pass on startup",
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !c.Bool("no-initial-sync") {
		summary, err := application.Sync.Tick(ctx, false)
		if err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
		utils.PrintSuccess(fmt.Sprintf("Initial sync finished: %d up, %d down, %d conflict(s)",
			summary.Uploaded, summary.Downloaded, summary.Conflicts))
	}

	if err := application.Watcher.Start(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() {
		if err := application.Watcher.Stop(); err != nil {
			loggy.Warn("Stopping watcher", "error", err)
		}
	}()

	if err := application.Realtime.Connect(ctx); err != nil {
		// The manager keeps reconnecting in the background; local changes
		// still queue up while offline.
		utils.PrintWarning(fmt.Sprintf("Realtime connection unavailable: %s", err))
	} else if err := application.Realtime.Subscribe(ctx, application.Config.Vault.ID); err != nil {
		utils.PrintWarning(fmt.Sprintf("Vault subscription failed: %s", err))
	}

	utils.PrintInfo("Watching vault, press Ctrl+C to stop")
	<-ctx.Done()

	utils.PrintInfo("Stopping")
	return nil
}
