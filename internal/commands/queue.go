package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/app"
	"github.com/tildaslashalef/vaultsync/internal/queue"
	"github.com/tildaslashalef/vaultsync/internal/utils"
)

// QueueCommand returns the CLI command for managing the offline queue
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Manage the offline operation queue",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List queued, failed and completed operations",
				Action: queueListAction,
			},
			{
				Name:      "retry",
				Usage:     "Requeue failed operations",
				ArgsUsage: "[operation-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Retry every failed operation",
					},
				},
				Action: queueRetryAction,
			},
			{
				Name:  "clear",
				Usage: "Remove finished operations from the queue",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "failed",
						Usage: "Also remove failed operations",
					},
				},
				Action: queueClearAction,
			},
			{
				Name:   "replay",
				Usage:  "Replay queued operations against the remote store",
				Action: queueReplayAction,
			},
		},
	}
}

func queueListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ops, err := application.Queue.List(c.Context)
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}
	if len(ops) == 0 {
		utils.PrintInfo("Queue is empty")
		return nil
	}

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		lastError := op.LastError
		if lastError == "" {
			lastError = "-"
		}
		rows = append(rows, []string{
			op.ID,
			utils.TruncateString(op.Path, 40),
			string(op.Kind),
			string(op.Status),
			fmt.Sprintf("%d", op.RetryCount),
			utils.FormatTime(op.QueuedAt),
			utils.TruncateString(lastError, 40),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Path", "Kind", "Status", "Retries", "Queued", "Last Error"},
		rows, utils.TableOptions{Title: "Offline Queue"})
	return nil
}

func queueRetryAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.Bool("all") {
		count, err := application.Queue.RetryAllFailed(c.Context)
		if err != nil {
			return fmt.Errorf("retrying failed operations: %w", err)
		}
		utils.PrintSuccess(fmt.Sprintf("Requeued %d operation(s)", count))
		return nil
	}

	if c.NArg() != 1 {
		return fmt.Errorf("usage: vaultsync queue retry <operation-id> (or --all)")
	}
	id := c.Args().First()
	if err := application.Queue.RetryFailed(c.Context, id); err != nil {
		return fmt.Errorf("retrying operation: %w", err)
	}
	utils.PrintSuccess(fmt.Sprintf("Operation %s requeued", id))
	return nil
}

func queueClearAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if err := application.Queue.ClearSynced(c.Context); err != nil {
		return fmt.Errorf("clearing synced operations: %w", err)
	}
	if c.Bool("failed") {
		if err := application.Queue.ClearFailed(c.Context); err != nil {
			return fmt.Errorf("clearing failed operations: %w", err)
		}
	}
	utils.PrintSuccess("Queue cleared")
	return nil
}

func queueReplayAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	processed, err := application.Queue.Replay(c.Context)
	if err != nil {
		return fmt.Errorf("replaying queue: %w", err)
	}
	if len(processed) == 0 {
		utils.PrintInfo("Nothing to replay")
		return nil
	}

	synced, failed := 0, 0
	for _, op := range processed {
		switch op.Status {
		case queue.StatusSynced:
			synced++
		case queue.StatusFailed:
			failed++
		}
	}
	utils.PrintSuccess(fmt.Sprintf("Replayed %d operation(s): %d synced, %d failed",
		len(processed), synced, failed))
	return nil
}
