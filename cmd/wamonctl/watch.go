package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tupski/wa-monitor/internal/api"
)

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Stream daemon events",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "only events whose kind starts with this (e.g. sync., message.)",
		},
	},
	Action: cmdWatch,
}

func cmdWatch(ctx *cli.Context) error {
	jsonOut := ctx.Bool("json")
	return getClient(ctx).WatchEvents(ctx.Context, ctx.String("prefix"), func(env *api.Envelope) error {
		if jsonOut {
			return outputJSON(env)
		}
		at := time.UnixMilli(env.OccurredAt).Format("15:04:05.000")
		fmt.Printf("%s %-24s %s\n", at, env.Kind, env.Payload)
		return nil
	})
}
