package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tupski/wa-monitor/internal/chat"
)

var contactCommand = &cli.Command{
	Name:      "contact",
	Usage:     "Show what is known about a contact",
	ArgsUsage: "CONTACT",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "avatar", Usage: "download the profile picture first"},
	},
	Action: cmdContact,
}

var meCommand = &cli.Command{
	Name:   "me",
	Usage:  "Show the logged-in account",
	Action: cmdMe,
}

func cmdContact(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("you must specify a contact id")
	}
	id := ctx.Args().First()
	client := getClient(ctx)

	if ctx.Bool("avatar") {
		item, err := client.LoadProfile(ctx.Context, id)
		if err != nil {
			return err
		}
		if item.Error != "" {
			fmt.Printf("profile picture: %s\n", item.Error)
		}
	}

	rctx, cancel := timeout(ctx)
	defer cancel()
	c, err := client.GetContact(rctx, id)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(c)
	}
	printContact(*c)
	return nil
}

func cmdMe(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	c, err := getClient(ctx).GetSelf(rctx)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(c)
	}
	printContact(*c)
	return nil
}

func printContact(c chat.Contact) {
	fmt.Printf("%s (%s)\n", c.DisplayName(), c.ID)
	if c.PushName != "" && c.PushName != c.Name {
		fmt.Printf("  push name: %s\n", c.PushName)
	}
	if c.BusinessName != "" {
		fmt.Printf("  business:  %s\n", c.BusinessName)
	}
	if c.Status != "" {
		fmt.Printf("  about:     %s\n", c.Status)
	}
	if c.ProfilePicture != "" {
		fmt.Printf("  picture:   %s\n", c.ProfilePicture)
	}
}
