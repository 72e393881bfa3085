package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tupski/wa-monitor/internal/api"
	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/wa"
)

var pairCommand = &cli.Command{
	Name:   "pair",
	Usage:  "Print pairing QR codes until the phone links the session",
	Action: cmdPair,
}

var errPaired = errors.New("paired")

func cmdPair(ctx *cli.Context) error {
	c := getClient(ctx)

	rctx, cancel := timeout(ctx)
	report, err := c.Status(rctx)
	cancel()
	if err != nil {
		return err
	}
	if report.Connected {
		fmt.Println("Session already paired.")
		return nil
	}

	fmt.Println("Waiting for a pairing code. Scan it from WhatsApp > Linked devices.")
	err = c.WatchEvents(ctx.Context, "session.", func(env *api.Envelope) error {
		switch env.Kind {
		case bus.KindSessionQR:
			var qr wa.QR
			if err := env.Decode(&qr); err != nil {
				return err
			}
			fmt.Println(wa.RenderTerminal(qr.Code))
		case bus.KindSessionConnected:
			return errPaired
		case bus.KindSessionLoggedOut:
			return fmt.Errorf("session logged out")
		}
		return nil
	})
	if errors.Is(err, errPaired) {
		fmt.Println("Paired.")
		return nil
	}
	return err
}
