package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tupski/wa-monitor/internal/api"
	"github.com/tupski/wa-monitor/internal/session"
)

const requestTimeout = 10 * time.Second

type contextKey int

const contextKeyClient contextKey = iota

func getClient(ctx *cli.Context) *api.Client {
	return ctx.Context.Value(contextKeyClient).(*api.Client)
}

// connect resolves the session and dials its daemon.
func connect(ctx *cli.Context) error {
	sessionName := session.Resolve(ctx.String("session"))
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}
	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyClient, c)
	return nil
}

func disconnect(ctx *cli.Context) error {
	if c, ok := ctx.Context.Value(contextKeyClient).(*api.Client); ok {
		return c.Close()
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "wamonctl",
		Usage: "Control a running wamond session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "session",
				Usage: "session name (overrides config default)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output in JSON format",
			},
		},
		Before: connect,
		After:  disconnect,
		Commands: []*cli.Command{
			statusCommand,
			pairCommand,
			syncCommand,
			chatsCommand,
			messagesCommand,
			callsCommand,
			mediaCommand,
			profilesCommand,
			contactCommand,
			meCommand,
			watchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// timeout bounds a single unary call.
func timeout(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Context, requestTimeout)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
