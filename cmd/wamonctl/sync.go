package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	intsync "github.com/tupski/wa-monitor/internal/sync"
)

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "Control the full history sync",
	Subcommands: []*cli.Command{
		{Name: "start", Usage: "Start a sync pass", Action: cmdSyncStart},
		{Name: "stop", Usage: "Stop the running pass", Action: cmdSyncStop},
		{Name: "progress", Usage: "Show sync progress", Action: cmdSyncProgress},
	},
}

func cmdSyncStart(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	res, err := getClient(ctx).StartSync(rctx)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(res)
	}
	switch res.Status {
	case intsync.StartStarted:
		fmt.Println("Sync started.")
	case intsync.StartAlreadyRunning:
		fmt.Println("Sync already running.")
		printProgress(res.Progress)
	case intsync.StartAlreadyCompleted:
		fmt.Printf("Sync already completed today (%d messages).\n", res.Record.TotalMessagesDownloaded)
	}
	return nil
}

func cmdSyncStop(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	stopped, err := getClient(ctx).StopSync(rctx)
	if err != nil {
		return err
	}
	if stopped {
		fmt.Println("Stop requested.")
	} else {
		fmt.Println("No sync running.")
	}
	return nil
}

func cmdSyncProgress(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	p, err := getClient(ctx).SyncProgress(rctx)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(p)
	}
	printProgress(*p)
	return nil
}

func printProgress(p intsync.Progress) {
	fmt.Printf("Running:  %v\n", p.IsRunning)
	fmt.Printf("Chats:    %d/%d\n", p.ProcessedChats, p.TotalChats)
	fmt.Printf("Messages: %d\n", p.ProcessedMessages)
	if p.CurrentChat != "" {
		fmt.Printf("Current:  %s\n", p.CurrentChat)
	}
	if p.EstimatedTimeRemaining > 0 {
		fmt.Printf("ETA:      %ds\n", p.EstimatedTimeRemaining)
	}
	for _, e := range p.Errors {
		fmt.Printf("Error:    %s: %s\n", e.Chat, e.Error)
	}
}
