package commands

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/app"
	"github.com/tildaslashalef/vaultsync/internal/conflict"
	"github.com/tildaslashalef/vaultsync/internal/utils"
)

// ConflictsCommand returns the CLI command for inspecting and resolving
// sync conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Inspect and resolve sync conflicts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List open conflicts",
				Action: conflictsListAction,
			},
			{
				Name:      "show",
				Usage:     "Show both sides of a conflict",
				ArgsUsage: "<conflict-id>",
				Action:    conflictsShowAction,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a conflict",
				ArgsUsage: "<conflict-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "strategy",
						Aliases:  []string{"s"},
						Usage:    "Resolution strategy: keep_local, keep_remote, keep_both, merge_manual",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "File with merged content (merge_manual only)",
					},
				},
				Action: conflictsResolveAction,
			},
			{
				Name:   "detect",
				Usage:  "Run conflict detection across the whole vault",
				Action: conflictsDetectAction,
			},
		},
	}
}

func conflictsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	records, err := application.Conflicts.List(c.Context)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}
	if len(records) == 0 {
		utils.PrintSuccess("No open conflicts")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			record.ID,
			utils.TruncateString(record.Path, 48),
			string(record.Kind),
			utils.FormatTime(record.DetectedAt),
		})
	}
	utils.PrintTable([]string{"ID", "Path", "Kind", "Detected"}, rows,
		utils.TableOptions{Title: "Open Conflicts"})
	return nil
}

func conflictsShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("usage: vaultsync conflicts show <conflict-id>")
	}

	record, err := application.Conflicts.Get(c.Context, c.Args().First())
	if err != nil {
		return fmt.Errorf("loading conflict: %w", err)
	}

	utils.PrintHeading(record.Path)
	utils.PrintKeyValue("Kind", string(record.Kind))
	utils.PrintKeyValue("Detected", utils.FormatTime(record.DetectedAt))
	utils.PrintKeyValue("Local modified", utils.FormatTime(record.LocalModifiedAt))
	utils.PrintKeyValue("Remote modified", utils.FormatTime(record.RemoteModifiedAt))

	fmt.Println()
	utils.PrintHeading("Local")
	if record.LocalContent == nil {
		utils.PrintWarning("(deleted locally)")
	} else {
		fmt.Println(string(record.LocalContent))
	}

	fmt.Println()
	utils.PrintHeading("Remote")
	fmt.Println(string(record.RemoteContent))
	return nil
}

func conflictsResolveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("usage: vaultsync conflicts resolve <conflict-id> --strategy <strategy>")
	}

	strategy, err := parseStrategy(c.String("strategy"))
	if err != nil {
		return err
	}

	var merged []byte
	if path := c.String("file"); path != "" {
		merged, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading merged content: %w", err)
		}
	}

	id := c.Args().First()
	if err := application.Conflicts.Resolve(c.Context, id, strategy, merged); err != nil {
		utils.PrintError(fmt.Sprintf("Resolution failed: %s", err))
		return fmt.Errorf("resolving conflict: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Conflict %s resolved with %s", id, strategy))
	return nil
}

func conflictsDetectAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	found, err := application.Conflicts.DetectAll(c.Context)
	if err != nil {
		return fmt.Errorf("detecting conflicts: %w", err)
	}
	if len(found) == 0 {
		utils.PrintSuccess("No conflicts detected")
		return nil
	}

	utils.PrintWarning(fmt.Sprintf("%d conflict(s) open", len(found)))
	for _, record := range found {
		fmt.Printf("  %s  %s (%s)\n", record.ID, record.Path, record.Kind)
	}
	return nil
}

func parseStrategy(s string) (conflict.Strategy, error) {
	switch conflict.Strategy(s) {
	case conflict.KeepLocal, conflict.KeepRemote, conflict.KeepBoth, conflict.MergeManual:
		return conflict.Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected keep_local, keep_remote, keep_both or merge_manual)", s)
	}
}
