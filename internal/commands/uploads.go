package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/vaultsync/internal/app"
	"github.com/tildaslashalef/vaultsync/internal/utils"
)

// UploadsCommand returns the CLI command for inspecting chunked upload
// sessions
func UploadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "uploads",
		Usage: "Inspect resumable upload sessions",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List in-flight upload sessions",
				Action: uploadsListAction,
			},
			{
				Name:      "cancel",
				Usage:     "Discard the upload session for a path",
				ArgsUsage: "<path>",
				Action:    uploadsCancelAction,
			},
			{
				Name:   "gc",
				Usage:  "Remove stale and completed upload sessions",
				Action: uploadsGCAction,
			},
		},
	}
}

func uploadsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	sessions, err := application.Uploads.List(c.Context)
	if err != nil {
		return fmt.Errorf("listing upload sessions: %w", err)
	}
	if len(sessions) == 0 {
		utils.PrintInfo("No upload sessions")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		rows = append(rows, []string{
			session.UploadID,
			utils.TruncateString(session.Path, 40),
			fmt.Sprintf("%d/%d", len(session.UploadedChunks), session.ChunkCount),
			utils.FormatBytes(session.UploadedBytes()),
			utils.FormatBytes(session.TotalSize),
			utils.FormatTime(session.StartedAt),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Path", "Chunks", "Uploaded", "Total", "Started"},
		rows, utils.TableOptions{Title: "Upload Sessions"})
	return nil
}

func uploadsCancelAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("usage: vaultsync uploads cancel <path>")
	}

	path := c.Args().First()
	if err := application.Uploads.Cancel(c.Context, path); err != nil {
		return fmt.Errorf("cancelling upload: %w", err)
	}
	utils.PrintSuccess(fmt.Sprintf("Upload session for %s discarded", path))
	return nil
}

func uploadsGCAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	removed, err := application.Uploads.GC(c.Context)
	if err != nil {
		return fmt.Errorf("collecting stale sessions: %w", err)
	}
	utils.PrintSuccess(fmt.Sprintf("Removed %d stale session(s)", removed))
	return nil
}
