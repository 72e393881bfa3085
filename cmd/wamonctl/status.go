package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "Show session status",
	Action: cmdStatus,
}

func cmdStatus(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	report, err := getClient(ctx).Status(rctx)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(report)
	}
	fmt.Printf("Session:   %s\n", report.Session)
	fmt.Printf("Status:    %s (since %s)\n", report.State, report.Since.Format(time.RFC3339))
	fmt.Printf("Syncing:   %v\n", report.Syncing)
	if report.Record.LastRunDate != "" {
		fmt.Printf("Last run:  %s (completed: %v, %d messages)\n",
			report.Record.LastRunDate, report.Record.IsCompleted, report.Record.TotalMessagesDownloaded)
	}
	return nil
}
